// Package processrunner implements the Process Runner: the
// classification-phase state machine per account — batch, classify,
// upsert — chained behind the Sync Runner. The batch/mark-processed shape
// (fetch unprocessed batch, analyze each row, store before marking
// processed, log and continue on a single row's failure) is adapted from
// JeromeDesseaux-test_stoik's FraudDetectionService.ProcessUnprocessedEmails;
// the keyword-first/LM-on-uncertainty gate and cost accrual are new logic
// over internal/classify and internal/llm.
package processrunner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stoik/mailsub/internal/classify"
	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/ports"
	"github.com/stoik/mailsub/internal/ratelimit"
)

const (
	MaxAttempts    = 3
	EscalationGate = 0.3

	// DefaultBatchSize and DefaultInterBatchDelay back New when the caller
	// leaves the corresponding option at its zero value.
	DefaultBatchSize       = 50
	DefaultInterBatchDelay = 100 * time.Millisecond
)

// Runner drives one account's process phase at a time; callers are
// responsible for the at-most-one guard (Supervisor). Each call to Run
// paces itself with its own Pacer built from InterBatchDelay — Run is
// invoked concurrently, one goroutine per account, and a Pacer held on the
// Runner itself would throttle every account through a single shared token
// bucket instead of giving each its own.
type Runner struct {
	Storage    ports.Storage
	LM         ports.LMClassifier
	Classifier *classify.Classifier

	BatchSize       int
	InterBatchDelay time.Duration

	Now func() time.Time
}

// New returns a Runner with the real clock. classifier supplies the keyword
// confidence threshold; batchSize and interBatchDelay configure the
// per-batch size and inter-batch pacing. A zero batchSize or interBatchDelay
// falls back to its Default.
func New(storage ports.Storage, lm ports.LMClassifier, classifier *classify.Classifier, batchSize int, interBatchDelay time.Duration) *Runner {
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	if interBatchDelay == 0 {
		interBatchDelay = DefaultInterBatchDelay
	}
	return &Runner{
		Storage:         storage,
		LM:              lm,
		Classifier:      classifier,
		BatchSize:       batchSize,
		InterBatchDelay: interBatchDelay,
		Now:             func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the full process-phase state machine for accountID, looping
// batches until a batch finds zero unprocessed rows.
func (r *Runner) Run(ctx context.Context, accountID uuid.UUID) error {
	account, err := r.Storage.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("processrunner: load account: %w", err)
	}

	if account.ProcessingStatus == domain.ProcessingAnalyzing {
		return nil
	}

	resuming := (account.ProcessingStatus == domain.ProcessingAnalyzing || account.ProcessingStatus == domain.ProcessingError) &&
		account.EmailsAnalyzed < account.EmailsToAnalyze
	if !resuming {
		total, err := r.Storage.CountUnprocessedMailRows(ctx, accountID)
		if err != nil {
			return r.fail(ctx, account, fmt.Errorf("count unprocessed: %w", err))
		}
		now := r.Now()
		account.EmailsToAnalyze = total
		account.EmailsAnalyzed = 0
		account.SubscriptionsFound = 0
		account.ProcessingStatus = domain.ProcessingAnalyzing
		account.ProcessingStartedAt = &now
		if err := r.Storage.UpdateAccount(ctx, account); err != nil {
			return fmt.Errorf("processrunner: persist initialise: %w", err)
		}
		if total == 0 {
			return r.complete(ctx, account)
		}
	} else {
		account.ProcessingStatus = domain.ProcessingAnalyzing
		if err := r.Storage.UpdateAccount(ctx, account); err != nil {
			return fmt.Errorf("processrunner: persist resume: %w", err)
		}
	}

	pacer := ratelimit.NewPacer(r.InterBatchDelay)
	for {
		rows, err := r.Storage.GetUnprocessedMailRows(ctx, accountID, r.BatchSize)
		if err != nil {
			return r.fail(ctx, account, fmt.Errorf("fetch batch: %w", err))
		}
		if len(rows) == 0 {
			return r.complete(ctx, account)
		}

		analyzed, found, err := r.processBatch(ctx, account, rows)
		if err != nil {
			return r.fail(ctx, account, err)
		}

		account.EmailsAnalyzed += analyzed
		account.SubscriptionsFound += found
		if err := r.Storage.UpdateAccount(ctx, account); err != nil {
			return fmt.Errorf("processrunner: persist batch counters: %w", err)
		}

		if err := pacer.Wait(ctx); err != nil {
			return r.fail(ctx, account, err)
		}
	}
}

// processBatch classifies every row in the batch, persists each row's
// verdict and any resulting Subscription, and returns the batch's analyzed
// and subscriptions-found totals. A row whose storage step fails burns one
// of its three attempts instead of being marked processed, but the attempt
// count is capped so a permanently broken row cannot stall the account
// forever.
func (r *Runner) processBatch(ctx context.Context, account *domain.Account, rows []domain.MailRow) (analyzed, found int, err error) {
	for i := range rows {
		row := rows[i]
		r.applyClassification(ctx, account, &row)

		subFound := false
		if row.IsSubscription && row.ExtractedData.ServiceName != nil && row.ExtractedData.Amount != nil {
			created, err := r.Storage.UpsertSubscription(ctx, subscriptionFromRow(account, row))
			if err != nil {
				slog.Warn(fmt.Sprintf("processrunner[%s]: failed to upsert subscription for row %s: %v", account.ID, row.ID, err))
			} else if created {
				subFound = true
			}
		}

		now := r.now()
		row.ProcessedAt = &now
		if err := r.Storage.MarkMailRowProcessed(ctx, &row); err != nil {
			row.AnalysisAttempts++
			if row.AnalysisAttempts >= MaxAttempts {
				row.IsSubscription = false
				row.SubscriptionConfidence = 0
				row.AIProvider = domain.ProviderError
				row.AIReasoning = fmt.Sprintf("failed after %d attempts: %v", row.AnalysisAttempts, err)
				if burnErr := r.Storage.MarkMailRowProcessed(ctx, &row); burnErr != nil {
					slog.Error(fmt.Sprintf("processrunner[%s]: failed to burn row %s after %d attempts: %v", account.ID, row.ID, row.AnalysisAttempts, burnErr))
				}
			} else {
				row.ProcessedAt = nil
				if saveErr := r.Storage.UpsertMailRow(ctx, &row); saveErr != nil {
					slog.Warn(fmt.Sprintf("processrunner[%s]: failed to persist attempt count for row %s: %v", account.ID, row.ID, saveErr))
				}
			}
			continue
		}

		analyzed++
		if row.IsSubscription && row.ExtractedData.ServiceName != nil && row.ExtractedData.Amount != nil {
			created, err := r.Storage.UpsertSubscription(ctx, subscriptionFromRow(account, row))
			if err != nil {
				slog.Warn(fmt.Sprintf("processrunner[%s]: failed to upsert subscription for row %s: %v", account.ID, row.ID, err))
			} else if created || subFound {
				found++
			}
		}
	}
	return analyzed, found, nil
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// applyClassification runs the keyword-first, LM-on-uncertainty gate over
// row, mutating row in place with the verdict. An LM failure falls back to
// the keyword result immediately — this is not the exception/retry path,
// it's the documented degraded mode.
func (r *Runner) applyClassification(ctx context.Context, account *domain.Account, row *domain.MailRow) {
	kw := r.Classifier.Classify(*row)

	if kw.Confidence < EscalationGate {
		applyVerdict(row, kw, domain.ProviderKeywords)
		return
	}

	if r.LM != nil && r.LM.Enabled() {
		verdict, usage, err := r.LM.Classify(ctx, *row)
		if err == nil {
			applyVerdict(row, verdict, domain.ProviderClaude)
			account.AICostTotal = roundTo6(account.AICostTotal + usage.Cost())
			return
		}
		slog.Warn(fmt.Sprintf("processrunner[%s]: LM classification failed for row %s, falling back to keywords: %v", account.ID, row.ID, err))
	}

	applyVerdict(row, kw, domain.ProviderKeywordsFallback)
}

func applyVerdict(row *domain.MailRow, v ports.Verdict, provider domain.AIProvider) {
	row.IsSubscription = v.IsSubscription
	row.SubscriptionConfidence = v.Confidence
	row.ExtractedData = v.Extracted
	row.AIProvider = provider
	row.AIReasoning = v.Reasoning
}

func subscriptionFromRow(account *domain.Account, row domain.MailRow) *domain.Subscription {
	now := time.Now().UTC()
	rowID := row.ID
	sub := &domain.Subscription{
		ID:              uuid.New(),
		UserID:          account.UserID,
		MailRowID:       &rowID,
		ServiceName:     *row.ExtractedData.ServiceName,
		Amount:          *row.ExtractedData.Amount,
		Currency:        "USD",
		BillingCycle:    domain.BillingMonthly,
		Status:          domain.SubscriptionActive,
		ConfidenceScore: row.SubscriptionConfidence,
		FirstDetected:   now,
		LastUpdated:     now,
	}
	if row.ExtractedData.Currency != nil {
		sub.Currency = *row.ExtractedData.Currency
	}
	if row.ExtractedData.BillingCycle != nil {
		sub.BillingCycle = *row.ExtractedData.BillingCycle
	}
	return sub
}

func (r *Runner) complete(ctx context.Context, account *domain.Account) error {
	account.ProcessingStatus = domain.ProcessingCompleted
	account.ProcessingStartedAt = nil
	account.LastError = ""
	return r.Storage.UpdateAccount(ctx, account)
}

func (r *Runner) fail(ctx context.Context, account *domain.Account, cause error) error {
	account.ProcessingStatus = domain.ProcessingError
	account.LastError = cause.Error()
	if err := r.Storage.UpdateAccount(ctx, account); err != nil {
		slog.Error(fmt.Sprintf("processrunner[%s]: failed to persist error state: %v", account.ID, err))
	}
	return fmt.Errorf("processrunner: %w", cause)
}

func roundTo6(v float64) float64 {
	const factor = 1e6
	sign := 1.0
	if v < 0 {
		sign = -1
	}
	return float64(int64(v*factor+sign*0.5)) / factor
}
