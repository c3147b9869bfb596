// Package httpserver exposes the pipeline's minimal external HTTP
// surface: liveness/readiness probes and the Supervisor's start
// endpoints. The mux/Server/graceful-shutdown shape is adapted from
// dsmolchanov-nerve's internal/app.App.Serve.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stoik/mailsub/internal/supervisor"
)

// Pinger is satisfied by storage.PostgresStore; readyz uses it to confirm
// the pipeline's database is actually reachable rather than just that the
// process is alive.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the health surface and the Supervisor's fire-and-forget
// start operations behind a *http.Server.
type Server struct {
	Addr       string
	DB         Pinger
	Supervisor *supervisor.Supervisor
}

// Serve blocks until ctx is cancelled, at which point it gracefully shuts
// down the underlying *http.Server.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.DB.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("/accounts/sync", s.handleStartSync)
	mux.HandleFunc("/accounts/process", s.handleStartProcessing)
	return mux
}

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDFromQuery(w, r)
	if !ok {
		return
	}
	started := s.Supervisor.StartSync(r.Context(), accountID)
	writeStartResult(w, started)
}

func (s *Server) handleStartProcessing(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDFromQuery(w, r)
	if !ok {
		return
	}
	started := s.Supervisor.StartProcessing(r.Context(), accountID)
	writeStartResult(w, started)
}

func accountIDFromQuery(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("account_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid or missing account_id", http.StatusBadRequest)
		return uuid.UUID{}, false
	}
	return id, true
}

func writeStartResult(w http.ResponseWriter, started bool) {
	w.Header().Set("Content-Type", "application/json")
	if !started {
		w.WriteHeader(http.StatusConflict)
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"started": started})
}
