// Package status serves the agent's health, session status and metrics over
// HTTP.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/fota/internal/fotaagent/progress"
	"github.com/autopeer-io/fota/internal/fotaagent/session"
	"github.com/autopeer-io/fota/internal/pkg/metrics"
	"github.com/autopeer-io/fota/pkg/log"
	"github.com/autopeer-io/fota/pkg/options"
)

// Board tracks the session state for the status endpoint.
type Board struct {
	mu        sync.RWMutex
	state     string
	lastError string
	changed   time.Time

	ready atomic.Bool
}

var _ session.Observer = (*Board)(nil)

func NewBoard() *Board {
	return &Board{state: "idle"}
}

func (b *Board) StateChanged(_ context.Context, _, to string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = to
	b.changed = time.Now()
	switch {
	case err != nil:
		b.lastError = err.Error()
	case to == session.StateInit || to == session.StateVersionChecked:
		b.lastError = ""
	}
}

// SetReady marks the agent ready to run sessions.
func (b *Board) SetReady(ready bool) {
	b.ready.Store(ready)
}

func (b *Board) Ready() bool {
	return b.ready.Load()
}

// Snapshot is the body of GET /status.
type Snapshot struct {
	State     string    `json:"state"`
	Changed   time.Time `json:"changed,omitzero"`
	LastError string    `json:"lastError,omitempty"`
	Progress  float64   `json:"progress"`
	Lines     []string  `json:"lines,omitempty"`
}

// Server is the HTTP status server.
type Server struct {
	server   *http.Server
	board    *Board
	recorder *progress.Recorder
}

// NewServer builds the server routes.
func NewServer(opts *options.HttpOptions, board *Board, recorder *progress.Recorder) *Server {
	s := &Server{board: board, recorder: recorder}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.status).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: opts.Timeout,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.board.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	s.board.mu.RLock()
	snap := Snapshot{State: s.board.state, Changed: s.board.changed, LastError: s.board.lastError}
	s.board.mu.RUnlock()
	if s.recorder != nil {
		snap.Progress, snap.Lines = s.recorder.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.Error(err, "Failed to encode status")
	}
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	log.Info("Starting status server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
