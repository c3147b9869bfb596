package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stoik/mailsub/internal/classify"
	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/mailfetcher"
	"github.com/stoik/mailsub/internal/processrunner"
	"github.com/stoik/mailsub/internal/storetest"
	"github.com/stoik/mailsub/internal/syncrunner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSync_RefusesDoubleStart(t *testing.T) {
	store := storetest.New()
	accountID := uuid.New()
	store.Accounts[accountID] = &domain.Account{ID: accountID, SyncStatus: domain.SyncSyncing}

	sup := &Supervisor{Storage: store, guard: newGuard(nil), registry: newRegistry()}

	started := sup.StartSync(context.Background(), accountID)
	assert.False(t, started, "must refuse to start while sync_status=syncing")
}

func TestStartProcessing_RefusesDoubleStart(t *testing.T) {
	store := storetest.New()
	accountID := uuid.New()
	store.Accounts[accountID] = &domain.Account{ID: accountID, ProcessingStatus: domain.ProcessingAnalyzing}

	sup := &Supervisor{Storage: store, guard: newGuard(nil), registry: newRegistry()}

	started := sup.StartProcessing(context.Background(), accountID)
	assert.False(t, started)
}

func TestGuard_InProcessRegistryIsAtMostOne(t *testing.T) {
	store := storetest.New()
	accountID := uuid.New()
	store.Accounts[accountID] = &domain.Account{ID: accountID, SyncStatus: domain.SyncPending}

	g := newGuard(nil)
	r := newRegistry()

	first := g.acquire(context.Background(), r, accountID, phaseSync)
	second := g.acquire(context.Background(), r, accountID, phaseSync)
	assert.True(t, first)
	assert.False(t, second, "a second acquire for the same (account, phase) must be refused")

	g.release(context.Background(), r, accountID, phaseSync)
	third := g.acquire(context.Background(), r, accountID, phaseSync)
	assert.True(t, third, "after release, the guard must be acquirable again")
}

func TestResumeInterrupted_FlipsAnalyzingToErrorBeforeResuming(t *testing.T) {
	store := storetest.New()
	accountID := uuid.New()
	store.Accounts[accountID] = &domain.Account{
		ID:               accountID,
		ProcessingStatus: domain.ProcessingAnalyzing,
		EmailsToAnalyze:  10,
		EmailsAnalyzed:   4,
	}

	processRunner := processrunner.New(store, stubLMClassifier{}, classify.New(classify.Threshold), processrunner.DefaultBatchSize, time.Millisecond)
	fetcher := mailfetcher.New(stubMailbox{}, stubBroker{})
	syncRunner := syncrunner.New(store, fetcher, syncrunner.DefaultMonthsBack, syncrunner.DefaultStaleThresholdMinutes, time.Millisecond)

	sup := New(store, syncRunner, processRunner, nil)
	sup.ResumeInterrupted(context.Background())

	// The flip to error happens synchronously inside ResumeInterrupted; the
	// resumed run then sets analyzing again, so give the background
	// goroutine a moment to reach completed before asserting.
	time.Sleep(10 * time.Millisecond)

	account, err := store.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	assert.NotEqual(t, domain.ProcessingAnalyzing, account.ProcessingStatus, "boot-time resume must not leave the account permanently stuck behind its own reentrancy guard")
}
