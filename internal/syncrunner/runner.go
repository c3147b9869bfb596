// Package syncrunner implements the Sync Runner: the sync-phase state
// machine per account — count, fetch, persist, advance cursor — with
// resume, rate-limiting, and error classification. The "log and continue on
// one bad item" philosophy and the overall per-account loop shape are
// adapted from JeromeDesseaux-test_stoik's
// FraudDetectionService.IngestEmailsForTenant; pagination threading is
// adapted from jhjaggars-package-tracking's GetMessagesSinceWithPagination.
package syncrunner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/mailfetcher"
	"github.com/stoik/mailsub/internal/ports"
	"github.com/stoik/mailsub/internal/query"
	"github.com/stoik/mailsub/internal/ratelimit"
)

const (
	CountPageSize = 500
	FetchPageSize = 100

	// DefaultMonthsBack, DefaultInterPageDelay and
	// DefaultStaleThresholdMinutes back New when the caller leaves the
	// corresponding option at its zero value.
	DefaultMonthsBack            = 12
	DefaultInterPageDelay        = 100 * time.Millisecond
	DefaultStaleThresholdMinutes = 30
)

// Runner drives one account's sync phase at a time; callers are responsible
// for the at-most-one guard (Supervisor). Each call to Run paces itself with
// its own Pacer built from InterPageDelay — Run is invoked concurrently, one
// goroutine per account, and a Pacer held on the Runner itself would throttle
// every account through a single shared token bucket instead of giving each
// its own.
type Runner struct {
	Storage ports.Storage
	Fetcher *mailfetcher.Fetcher

	MonthsBack            int
	StaleThresholdMinutes int
	InterPageDelay        time.Duration

	// OnComplete is called after a successful run, with the account ID, so
	// the Supervisor can chain into processing. Optional.
	OnComplete func(ctx context.Context, accountID uuid.UUID)

	Now func() time.Time
}

// New returns a Runner with the real clock. monthsBack, staleThresholdMinutes
// and interPageDelay configure the initial lookback window, the stale-run
// warning threshold and the per-account inter-page pacing respectively; a
// zero value for any of them falls back to its Default.
func New(storage ports.Storage, fetcher *mailfetcher.Fetcher, monthsBack, staleThresholdMinutes int, interPageDelay time.Duration) *Runner {
	if monthsBack == 0 {
		monthsBack = DefaultMonthsBack
	}
	if staleThresholdMinutes == 0 {
		staleThresholdMinutes = DefaultStaleThresholdMinutes
	}
	if interPageDelay == 0 {
		interPageDelay = DefaultInterPageDelay
	}
	return &Runner{
		Storage:               storage,
		Fetcher:               fetcher,
		MonthsBack:            monthsBack,
		StaleThresholdMinutes: staleThresholdMinutes,
		InterPageDelay:        interPageDelay,
		Now:                   func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the full sync-phase state machine for accountID.
func (r *Runner) Run(ctx context.Context, accountID uuid.UUID) error {
	account, err := r.Storage.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("syncrunner: load account: %w", err)
	}

	built, resume, err := r.resumeDecision(account)
	if err != nil {
		return r.fail(ctx, account, ClassUnknown, err)
	}

	startPageToken := ""
	startProcessed := 0
	if resume {
		startPageToken = account.LastPageToken
		startProcessed = account.ProcessedEmails
		if account.ProcessingStartedAt != nil && r.Now().Sub(*account.ProcessingStartedAt) > time.Duration(r.StaleThresholdMinutes)*time.Minute {
			slog.Info(fmt.Sprintf("syncrunner[%s]: resuming a stale run (started %s ago)", accountID, r.Now().Sub(*account.ProcessingStartedAt)))
		}
	} else {
		now := r.Now()
		account.SyncStatus = domain.SyncSyncing
		account.TotalEmails = 0
		account.ProcessedEmails = 0
		account.LastPageToken = ""
		account.LastProcessedMessageID = ""
		account.ProcessingStartedAt = &now
		account.QueryHash = built.Fingerprint
		if err := r.Storage.UpdateAccount(ctx, account); err != nil {
			return fmt.Errorf("syncrunner: persist initialise: %w", err)
		}
	}

	if !resume {
		total, err := r.count(ctx, accountID, built.Filter)
		if err != nil {
			return r.fail(ctx, account, classify(err), err)
		}
		account.TotalEmails = total
		if err := r.Storage.UpdateAccount(ctx, account); err != nil {
			return fmt.Errorf("syncrunner: persist total: %w", err)
		}
	}

	pacer := ratelimit.NewPacer(r.InterPageDelay)
	processed, err := r.fetchAll(ctx, account, built.Filter, startPageToken, startProcessed, pacer)
	if err != nil {
		return r.fail(ctx, account, classify(err), err)
	}

	now := r.Now()
	account.LastPageToken = ""
	account.LastProcessedMessageID = ""
	account.SyncStatus = domain.SyncCompleted
	account.ProcessedEmails = processed
	account.LastSync = &now
	account.ProcessingStartedAt = nil
	account.LastError = ""
	wasInitial := !account.IsInitialSyncComplete
	if wasInitial {
		account.IsInitialSyncComplete = true
	}
	if err := r.Storage.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("syncrunner: persist completion: %w", err)
	}

	if r.OnComplete != nil {
		r.OnComplete(ctx, accountID)
	}
	return nil
}

// resumeDecision decides whether to continue a previously interrupted sync
// pass (same query fingerprint, a saved page token, status still syncing) or
// start a fresh one.
func (r *Runner) resumeDecision(account *domain.Account) (query.Result, bool, error) {
	initial := !account.IsInitialSyncComplete
	built, err := query.Build(query.Params{
		Initial:    initial,
		MonthsBack: r.MonthsBack,
		LastSync:   valueOrZero(account.LastSync),
		Now:        r.Now(),
	})
	if err != nil {
		return query.Result{}, false, err
	}

	if account.SyncStatus == domain.SyncSyncing && account.LastPageToken != "" && account.QueryHash == built.Fingerprint {
		return built, true, nil
	}
	return built, false, nil
}

func valueOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// count iterates the fetcher at CountPageSize purely to total the message IDs
// under filter.
func (r *Runner) count(ctx context.Context, accountID uuid.UUID, filter string) (int, error) {
	total := 0
	pageToken := ""
	for {
		page, err := r.Fetcher.ListPage(ctx, accountID, filter, pageToken, CountPageSize)
		if err != nil {
			return 0, err
		}
		total += len(page.MessageIDs)
		if page.NextPageToken == "" {
			return total, nil
		}
		pageToken = page.NextPageToken
	}
}

// fetchAll pages through the remote mailbox under filter, persisting each
// message and the cursor after every page so a crash resumes from the last
// completed page rather than the start.
func (r *Runner) fetchAll(ctx context.Context, account *domain.Account, filter, startPageToken string, startProcessed int, pacer *ratelimit.Pacer) (int, error) {
	pageToken := startPageToken
	processed := startProcessed
	accountID := account.ID

	for {
		page, err := r.Fetcher.ListPage(ctx, accountID, filter, pageToken, FetchPageSize)
		if err != nil {
			return processed, err
		}

		var lastID string
		skipped := 0
		for _, remoteID := range page.MessageIDs {
			msg, err := r.Fetcher.FetchNormalized(ctx, accountID, remoteID)
			if err != nil {
				skipped++
				slog.Warn(fmt.Sprintf("syncrunner[%s]: skipping message %s: %v", accountID, remoteID, err))
				continue
			}
			row := mailfetcher.ToMailRow(accountID, msg)
			if err := r.Storage.UpsertMailRow(ctx, &row); err != nil {
				skipped++
				slog.Warn(fmt.Sprintf("syncrunner[%s]: failed to persist message %s: %v", accountID, remoteID, err))
				continue
			}
			processed++
			lastID = remoteID
		}

		if err := r.saveCursor(ctx, accountID, processed, page.NextPageToken, lastID); err != nil {
			slog.Warn(fmt.Sprintf("syncrunner[%s]: cursor save failed after retry, continuing: %v", accountID, err))
		} else {
			// Mirror the saved cursor so a later fail() write keeps it.
			account.ProcessedEmails = processed
			account.LastPageToken = page.NextPageToken
			if lastID != "" {
				account.LastProcessedMessageID = lastID
			}
		}

		if page.NextPageToken == "" {
			return processed, nil
		}
		pageToken = page.NextPageToken

		if err := pacer.Wait(ctx); err != nil {
			return processed, err
		}
	}
}

// saveCursor atomically writes the resume cursor, retried once on failure;
// a second failure is logged but does not abort the run.
func (r *Runner) saveCursor(ctx context.Context, accountID uuid.UUID, processed int, nextPageToken, lastID string) error {
	write := func(ctx context.Context) error {
		account, err := r.Storage.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		account.ProcessedEmails = processed
		account.LastPageToken = nextPageToken
		if lastID != "" {
			account.LastProcessedMessageID = lastID
		}
		return r.Storage.UpdateAccount(ctx, account)
	}

	err := r.Storage.WithCursorTx(ctx, accountID, write)
	if err == nil {
		return nil
	}
	return r.Storage.WithCursorTx(ctx, accountID, write)
}

// fail classifies err, writes sync_status=error and last_error, and clears
// resume state only for authentication failures.
func (r *Runner) fail(ctx context.Context, account *domain.Account, class Class, cause error) error {
	if !class.preservesResume() {
		account.LastPageToken = ""
		account.LastProcessedMessageID = ""
	}
	account.SyncStatus = domain.SyncError
	account.LastError = class.userMessage()
	account.ProcessingStartedAt = nil
	if err := r.Storage.UpdateAccount(ctx, account); err != nil {
		slog.Error(fmt.Sprintf("syncrunner[%s]: failed to persist error state: %v", account.ID, err))
	}
	return fmt.Errorf("syncrunner: %s: %w", class.userMessage(), cause)
}
