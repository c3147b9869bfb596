package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stoik/mailsub/internal/classify"
	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/mailfetcher"
	"github.com/stoik/mailsub/internal/ports"
	"github.com/stoik/mailsub/internal/processrunner"
	"github.com/stoik/mailsub/internal/storetest"
	"github.com/stoik/mailsub/internal/supervisor"
	"github.com/stoik/mailsub/internal/syncrunner"
)

type stubMailbox struct{}

func (stubMailbox) ListMessages(context.Context, string, string, string, int) (ports.MessagePage, error) {
	return ports.MessagePage{}, nil
}

func (stubMailbox) GetMessage(context.Context, string, string) (ports.RawMessage, error) {
	return ports.RawMessage{}, nil
}

type stubBroker struct{}

func (stubBroker) AccessToken(context.Context, uuid.UUID) (string, error) { return "bearer", nil }

type stubLM struct{}

func (stubLM) Enabled() bool { return false }

func (stubLM) Classify(context.Context, domain.MailRow) (ports.Verdict, ports.Usage, error) {
	return ports.Verdict{}, ports.Usage{}, nil
}

// readyPinger reports whatever err is set, letting /readyz tests flip
// between healthy and unhealthy without a real database.
type readyPinger struct{ err error }

func (p readyPinger) Ping(context.Context) error { return p.err }

func newTestSupervisor(t *testing.T) (*supervisor.Supervisor, uuid.UUID) {
	t.Helper()
	store := storetest.New()
	fetcher := mailfetcher.New(stubMailbox{}, stubBroker{})
	sync := syncrunner.New(store, fetcher, syncrunner.DefaultMonthsBack, syncrunner.DefaultStaleThresholdMinutes, time.Millisecond)
	process := processrunner.New(store, stubLM{}, classify.New(classify.Threshold), processrunner.DefaultBatchSize, time.Millisecond)

	sup := supervisor.New(store, sync, process, nil)

	accountID := uuid.New()
	lastSync := time.Now().Add(-time.Hour)
	store.Accounts[accountID] = &domain.Account{
		ID:               accountID,
		UserID:           uuid.New(),
		SyncStatus:       domain.SyncCompleted,
		ProcessingStatus: domain.ProcessingIdle,
		LastSync:         &lastSync,
	}
	return sup, accountID
}

func TestHealthz_AlwaysOK(t *testing.T) {
	srv := &Server{Addr: ":0", DB: readyPinger{}}
	mux := srv.mux()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestReadyz_ReflectsDatabaseHealth(t *testing.T) {
	srv := &Server{Addr: ":0", DB: readyPinger{}}
	mux := srv.mux()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz_UnhealthyDatabaseReturns503(t *testing.T) {
	srv := &Server{Addr: ":0", DB: readyPinger{err: context.DeadlineExceeded}}
	mux := srv.mux()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStartSync_MissingAccountIDIsBadRequest(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	srv := &Server{Addr: ":0", DB: readyPinger{}, Supervisor: sup}
	mux := srv.mux()

	req := httptest.NewRequest(http.MethodPost, "/accounts/sync", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartProcessing_RefusesWhileAlreadyAnalyzing(t *testing.T) {
	sup, accountID := newTestSupervisor(t)
	account, err := sup.Storage.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	account.ProcessingStatus = domain.ProcessingAnalyzing
	require.NoError(t, sup.Storage.UpdateAccount(context.Background(), account))

	srv := &Server{Addr: ":0", DB: readyPinger{}, Supervisor: sup}
	mux := srv.mux()

	req := httptest.NewRequest(http.MethodPost, "/accounts/process?account_id="+accountID.String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}
