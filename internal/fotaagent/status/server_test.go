package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/autopeer-io/fota/internal/fotaagent/progress"
	"github.com/autopeer-io/fota/internal/fotaagent/session"
	"github.com/autopeer-io/fota/pkg/options"
)

func newTestServer() (*Server, *Board, *progress.Recorder) {
	board := NewBoard()
	rec := progress.NewRecorder(10)
	return NewServer(options.NewHttpOptions(), board, rec), board, rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthAndReadiness(t *testing.T) {
	s, board, _ := newTestServer()
	h := s.Handler()

	if w := get(t, h, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("/healthz = %d", w.Code)
	}
	if w := get(t, h, "/readyz"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before ready = %d, want 503", w.Code)
	}
	board.SetReady(true)
	if w := get(t, h, "/readyz"); w.Code != http.StatusOK {
		t.Errorf("/readyz = %d, want 200", w.Code)
	}
}

func TestStatus(t *testing.T) {
	s, board, rec := newTestServer()
	ctx := context.Background()

	board.StateChanged(ctx, session.StateUpdatingSystem, session.StateFailed, errors.New("engine returned IOFailure"))
	rec.SetProgress(0.25)
	rec.Print("update system (1/4)")

	w := get(t, s.Handler(), "/status")
	if w.Code != http.StatusOK {
		t.Fatalf("/status = %d", w.Code)
	}
	var got Snapshot
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	want := Snapshot{
		State:     session.StateFailed,
		LastError: "engine returned IOFailure",
		Progress:  0.25,
		Lines:     []string{"update system (1/4)"},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Snapshot{}, "Changed")); diff != "" {
		t.Errorf("/status mismatch (-want +got):\n%s", diff)
	}
	if got.Changed.IsZero() {
		t.Error("Changed not set")
	}

	// A new session clears the previous error.
	board.StateChanged(ctx, session.StateInit, session.StateVersionChecked, nil)
	w = get(t, s.Handler(), "/status")
	if strings.Contains(w.Body.String(), "lastError") {
		t.Errorf("lastError still reported: %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer()
	w := get(t, s.Handler(), "/metrics")
	if w.Code != http.StatusOK {
		t.Errorf("/metrics = %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/status", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /status = %d, want 405", w.Code)
	}
}
