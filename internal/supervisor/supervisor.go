package supervisor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/ports"
	"github.com/stoik/mailsub/internal/processrunner"
	"github.com/stoik/mailsub/internal/syncrunner"
)

// Supervisor starts, chains and resumes the Sync and Process Runners. It
// owns no I/O of its own beyond launching goroutines and consulting the
// advisory guard; all durable state lives behind ports.Storage.
type Supervisor struct {
	Storage       ports.Storage
	SyncRunner    *syncrunner.Runner
	ProcessRunner *processrunner.Runner

	guard    *guard
	registry *registry
}

// New wires a Supervisor. redisClient may be nil, in which case the guard
// runs in-process only (see internal/supervisor/guard.go).
func New(storage ports.Storage, sync *syncrunner.Runner, process *processrunner.Runner, redisClient *redis.Client) *Supervisor {
	s := &Supervisor{
		Storage:       storage,
		SyncRunner:    sync,
		ProcessRunner: process,
		guard:         newGuard(redisClient),
		registry:      newRegistry(),
	}
	// Sync success implicitly calls StartProcessing on the same account.
	s.SyncRunner.OnComplete = func(ctx context.Context, accountID uuid.UUID) {
		s.StartProcessing(ctx, accountID)
	}
	return s
}

// StartSync fire-and-forgets a Sync Runner pass for accountID, refusing to
// double-start per the at-most-one guard.
func (s *Supervisor) StartSync(ctx context.Context, accountID uuid.UUID) bool {
	account, err := s.Storage.GetAccount(ctx, accountID)
	if err != nil {
		slog.Error(fmt.Sprintf("supervisor[%s]: failed to load account for sync start: %v", accountID, err))
		return false
	}
	if account.SyncStatus == domain.SyncSyncing {
		return false
	}
	if !s.guard.acquire(ctx, s.registry, accountID, phaseSync) {
		return false
	}

	go func() {
		defer s.guard.release(context.Background(), s.registry, accountID, phaseSync)
		runCtx := context.Background()
		if err := s.SyncRunner.Run(runCtx, accountID); err != nil {
			slog.Warn(fmt.Sprintf("supervisor[%s]: sync run ended with error: %v", accountID, err))
		}
	}()
	return true
}

// StartProcessing fire-and-forgets a Process Runner pass for accountID,
// refusing to double-start per the at-most-one guard.
func (s *Supervisor) StartProcessing(ctx context.Context, accountID uuid.UUID) bool {
	account, err := s.Storage.GetAccount(ctx, accountID)
	if err != nil {
		slog.Error(fmt.Sprintf("supervisor[%s]: failed to load account for processing start: %v", accountID, err))
		return false
	}
	if account.ProcessingStatus == domain.ProcessingAnalyzing {
		return false
	}
	if !s.guard.acquire(ctx, s.registry, accountID, phaseProcess) {
		return false
	}

	go func() {
		defer s.guard.release(context.Background(), s.registry, accountID, phaseProcess)
		runCtx := context.Background()
		if err := s.ProcessRunner.Run(runCtx, accountID); err != nil {
			slog.Warn(fmt.Sprintf("supervisor[%s]: process run ended with error: %v", accountID, err))
		}
	}()
	return true
}

// ResumeInterrupted scans for accounts left mid-run by a prior server
// instance (sync_status=syncing or processing_status=analyzing) and
// restarts each in the background. Called exactly once at server start.
// Failures are logged, never fatal to boot.
func (s *Supervisor) ResumeInterrupted(ctx context.Context) {
	syncing, err := s.Storage.ListAccountsBySyncStatus(ctx, domain.SyncSyncing)
	if err != nil {
		slog.Error(fmt.Sprintf("supervisor: failed to scan interrupted syncs: %v", err))
	}
	for _, account := range syncing {
		// StartSync refuses sync_status=syncing, and the Sync Runner only
		// resumes from that status, so launch the runner directly here.
		accountID := account.ID
		if !s.guard.acquire(ctx, s.registry, accountID, phaseSync) {
			continue
		}
		slog.Info(fmt.Sprintf("supervisor[%s]: resuming interrupted sync", accountID))
		go func() {
			defer s.guard.release(context.Background(), s.registry, accountID, phaseSync)
			if err := s.SyncRunner.Run(context.Background(), accountID); err != nil {
				slog.Warn(fmt.Sprintf("supervisor[%s]: sync run ended with error: %v", accountID, err))
			}
		}()
	}

	analyzing, err := s.Storage.ListAccountsByProcessingStatus(ctx, domain.ProcessingAnalyzing)
	if err != nil {
		slog.Error(fmt.Sprintf("supervisor: failed to scan interrupted processing: %v", err))
	}
	for _, account := range analyzing {
		// No live process holds this account's processing phase at boot, so
		// a persisted analyzing status means the prior owner crashed, not
		// that it's still running. The Process Runner's own reentrancy
		// guard treats analyzing as "do not touch" (in practice it resumes
		// only from error with a remaining budget), so flip it to error
		// first; the resume decision then proceeds without rezeroing
		// counters, exactly as it would for any other interrupted run.
		acc := account
		acc.ProcessingStatus = domain.ProcessingError
		acc.LastError = "interrupted by restart"
		if err := s.Storage.UpdateAccount(ctx, &acc); err != nil {
			slog.Error(fmt.Sprintf("supervisor[%s]: failed to mark interrupted processing for resume: %v", acc.ID, err))
			continue
		}
		slog.Info(fmt.Sprintf("supervisor[%s]: resuming interrupted processing", acc.ID))
		s.StartProcessing(ctx, acc.ID)
	}
}
