package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/internal/fotaagent/session"
)

type published struct {
	Topic  string
	Retain bool
	Fields map[string]any
}

type fakePublisher struct {
	mu           sync.Mutex
	msgs         []published
	startErr     error
	disconnected bool
}

func (p *fakePublisher) Start(context.Context) error           { return p.startErr }
func (p *fakePublisher) AwaitConnection(context.Context) error { return nil }
func (p *fakePublisher) Disconnect(context.Context)            { p.disconnected = true }

func (p *fakePublisher) Publish(_ context.Context, topic string, _ byte, retain bool, payload []byte) error {
	var st structpb.Struct
	if err := protojson.Unmarshal(payload, &st); err != nil {
		return err
	}
	fields := st.AsMap()
	delete(fields, "timestamp")
	p.mu.Lock()
	p.msgs = append(p.msgs, published{Topic: topic, Retain: retain, Fields: fields})
	p.mu.Unlock()
	return nil
}

func newReporter(pub *fakePublisher) *Reporter {
	r := New(pub, "iov/v1", "dev-1", 1)
	r.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return r
}

func TestReporterPublishesQueuedMessages(t *testing.T) {
	pub := &fakePublisher{}
	r := newReporter(pub)
	ctx := context.Background()

	r.StateChanged(ctx, session.StateInit, session.StateVersionChecked, nil)
	r.SetProgress(0.5)
	r.SetProgress(0.505)
	r.Print("update system (1/2)")
	r.StateChanged(ctx, session.StateUpdatingSystem, session.StateFailed, core.ErrEngineFailure)

	// Whatever is queued at shutdown is drained before going offline.
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := r.Run(cctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	want := []published{
		{"iov/v1/ota/presence/dev-1", true, map[string]any{"device": "dev-1", "state": "online"}},
		{"iov/v1/ota/status/dev-1", false, map[string]any{"device": "dev-1", "from": "init", "state": "version_checked"}},
		{"iov/v1/ota/progress/dev-1", false, map[string]any{"device": "dev-1", "progress": 0.5, "percent": 50.0}},
		{"iov/v1/ota/progress/dev-1", false, map[string]any{"device": "dev-1", "message": "update system (1/2)"}},
		{"iov/v1/ota/status/dev-1", true, map[string]any{
			"device": "dev-1", "from": "updating_system", "state": "failed",
			"error": core.ErrEngineFailure.Error(), "status": "Failure",
		}},
		{"iov/v1/ota/presence/dev-1", true, map[string]any{"device": "dev-1", "state": "offline"}},
	}
	if diff := cmp.Diff(want, pub.msgs); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
	if !pub.disconnected {
		t.Error("publisher not disconnected")
	}
}

func TestReporterDropsWhenFull(t *testing.T) {
	r := newReporter(&fakePublisher{})
	for i := 0; i < queueSize+10; i++ {
		r.Print("line")
	}
	if got := len(r.queue); got != queueSize {
		t.Errorf("queue length = %d, want %d", got, queueSize)
	}
}

func TestReporterStartError(t *testing.T) {
	boom := errors.New("bad broker url")
	r := newReporter(&fakePublisher{startErr: boom})
	if err := r.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Run() = %v, want %v", err, boom)
	}
}

func TestPresencePayload(t *testing.T) {
	var st structpb.Struct
	if err := protojson.Unmarshal(PresencePayload("dev-9", PresenceOffline), &st); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"device": "dev-9", "state": "offline"}
	if diff := cmp.Diff(want, st.AsMap()); diff != "" {
		t.Errorf("PresencePayload() mismatch (-want +got):\n%s", diff)
	}
}
