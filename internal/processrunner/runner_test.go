package processrunner

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stoik/mailsub/internal/classify"
	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/ports"
	"github.com/stoik/mailsub/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRow(accountID uuid.UUID, subject, body string, receivedAt time.Time) domain.MailRow {
	return domain.MailRow{
		ID:              uuid.New(),
		AccountID:       accountID,
		RemoteMessageID: uuid.NewString(),
		Subject:         subject,
		BodyText:        body,
		SenderEmail:     "billing@example.com",
		ReceivedAt:      receivedAt,
	}
}

func TestRun_LowConfidenceStaysOnKeywords(t *testing.T) {
	store := storetest.New()
	accountID := uuid.New()
	store.Accounts[accountID] = &domain.Account{ID: accountID, UserID: uuid.New(), ProcessingStatus: domain.ProcessingIdle}

	row := newRow(accountID, "Weekly newsletter update", "Nothing to see here.", time.Now())
	require.NoError(t, store.UpsertMailRow(context.Background(), &row))

	lm := &fakeLM{enabled: true}
	runner := New(store, lm, classify.New(classify.Threshold), DefaultBatchSize, time.Millisecond)

	require.NoError(t, runner.Run(context.Background(), accountID))

	account, _ := store.GetAccount(context.Background(), accountID)
	assert.Equal(t, domain.ProcessingCompleted, account.ProcessingStatus)
	assert.Equal(t, 1, account.EmailsAnalyzed)
	assert.Equal(t, 0, lm.calls, "LM must not be called below the escalation gate")

	stored := store.MailRows[row.ID]
	assert.Equal(t, domain.ProviderKeywords, stored.AIProvider)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestRun_HighConfidenceEscalatesToLM(t *testing.T) {
	store := storetest.New()
	accountID := uuid.New()
	userID := uuid.New()
	store.Accounts[accountID] = &domain.Account{ID: accountID, UserID: userID, ProcessingStatus: domain.ProcessingIdle}

	row := newRow(accountID, "Your Netflix subscription receipt", "Billing statement: card ending 4242, $15.99 charged", time.Now())
	require.NoError(t, store.UpsertMailRow(context.Background(), &row))

	service := "Netflix"
	amount := 15.99
	currency := "USD"
	lm := &fakeLM{
		enabled: true,
		verdict: ports.Verdict{
			IsSubscription: true,
			Confidence:     0.95,
			Extracted: domain.Extracted{
				ServiceName: &service,
				Amount:      &amount,
				Currency:    &currency,
			},
			Reasoning: "recurring charge pattern",
		},
		usage: ports.Usage{InputTokens: 1000, OutputTokens: 500},
	}
	runner := New(store, lm, classify.New(classify.Threshold), DefaultBatchSize, time.Millisecond)

	require.NoError(t, runner.Run(context.Background(), accountID))

	account, _ := store.GetAccount(context.Background(), accountID)
	assert.Equal(t, domain.ProcessingCompleted, account.ProcessingStatus)
	assert.Equal(t, 1, account.EmailsAnalyzed)
	assert.Equal(t, 1, account.SubscriptionsFound)
	assert.Equal(t, 1, lm.calls)
	assert.Equal(t, 0.000875, account.AICostTotal)

	stored := store.MailRows[row.ID]
	assert.Equal(t, domain.ProviderClaude, stored.AIProvider)
	assert.True(t, stored.IsSubscription)

	var found *domain.Subscription
	for _, sub := range store.Subscriptions {
		if sub.UserID == userID {
			found = sub
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "Netflix", found.ServiceName)
	assert.Equal(t, 15.99, found.Amount)
}

func TestRun_LMDisabledFallsBackToKeywords(t *testing.T) {
	store := storetest.New()
	accountID := uuid.New()
	store.Accounts[accountID] = &domain.Account{ID: accountID, UserID: uuid.New(), ProcessingStatus: domain.ProcessingIdle}

	row := newRow(accountID, "Your Netflix subscription receipt", "Billing statement: card ending 4242, $15.99 charged", time.Now())
	require.NoError(t, store.UpsertMailRow(context.Background(), &row))

	lm := &fakeLM{enabled: false}
	runner := New(store, lm, classify.New(classify.Threshold), DefaultBatchSize, time.Millisecond)

	require.NoError(t, runner.Run(context.Background(), accountID))

	assert.Equal(t, 0, lm.calls)
	stored := store.MailRows[row.ID]
	assert.Equal(t, domain.ProviderKeywordsFallback, stored.AIProvider)
}

func TestRun_LMFailureFallsBackToKeywords(t *testing.T) {
	store := storetest.New()
	accountID := uuid.New()
	store.Accounts[accountID] = &domain.Account{ID: accountID, UserID: uuid.New(), ProcessingStatus: domain.ProcessingIdle}

	row := newRow(accountID, "Your Netflix subscription receipt", "Billing statement: card ending 4242, $15.99 charged", time.Now())
	require.NoError(t, store.UpsertMailRow(context.Background(), &row))

	lm := &fakeLM{enabled: true, failAlways: true}
	runner := New(store, lm, classify.New(classify.Threshold), DefaultBatchSize, time.Millisecond)

	// An LM call failure falls back to the keyword verdict immediately and
	// still marks the row processed — it is not the attempt-burn path,
	// which only triggers on a storage failure while persisting the row.
	require.NoError(t, runner.Run(context.Background(), accountID))
	stored := store.MailRows[row.ID]
	assert.Equal(t, domain.ProviderKeywordsFallback, stored.AIProvider)
	assert.Equal(t, 1, lm.calls)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestRun_ZeroUnprocessedCompletesImmediately(t *testing.T) {
	store := storetest.New()
	accountID := uuid.New()
	store.Accounts[accountID] = &domain.Account{ID: accountID, UserID: uuid.New(), ProcessingStatus: domain.ProcessingIdle}

	runner := New(store, &fakeLM{enabled: true}, classify.New(classify.Threshold), DefaultBatchSize, time.Millisecond)
	require.NoError(t, runner.Run(context.Background(), accountID))

	account, _ := store.GetAccount(context.Background(), accountID)
	assert.Equal(t, domain.ProcessingCompleted, account.ProcessingStatus)
	assert.Equal(t, 0, account.EmailsToAnalyze)
}

func TestRun_ReentrancyGuardSkipsWhileAnalyzing(t *testing.T) {
	store := storetest.New()
	accountID := uuid.New()
	store.Accounts[accountID] = &domain.Account{ID: accountID, UserID: uuid.New(), ProcessingStatus: domain.ProcessingAnalyzing, EmailsToAnalyze: 10, EmailsAnalyzed: 10}

	runner := New(store, &fakeLM{enabled: true}, classify.New(classify.Threshold), DefaultBatchSize, time.Millisecond)
	require.NoError(t, runner.Run(context.Background(), accountID))

	account, _ := store.GetAccount(context.Background(), accountID)
	assert.Equal(t, domain.ProcessingAnalyzing, account.ProcessingStatus, "a run already in progress must return immediately without mutating state")
}
