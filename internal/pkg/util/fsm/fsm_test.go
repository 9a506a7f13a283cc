package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/looplab/fsm"
)

func TestWrapEventAndTransitions(t *testing.T) {
	boom := errors.New("boom")
	var seen [][3]string

	m := fsm.NewFSM("idle",
		fsm.Events{
			{Name: "start", Src: []string{"idle"}, Dst: "running"},
			{Name: "stop", Src: []string{"running"}, Dst: "stopped"},
		},
		fsm.Callbacks{
			"enter_state": OnTransition(func(_ context.Context, from, to, event string) {
				seen = append(seen, [3]string{from, to, event})
			}),
			"enter_stopped": WrapEvent(func(context.Context, *fsm.Event) error { return boom }),
		},
	)

	ctx := context.Background()
	if err := m.Event(ctx, "start"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Event(ctx, "stop"); !errors.Is(err, boom) {
		t.Fatalf("stop: got %v, want %v", err, boom)
	}
	if m.Current() != "stopped" {
		t.Errorf("state = %s, want stopped", m.Current())
	}
	want := [][3]string{{"idle", "running", "start"}, {"running", "stopped", "stop"}}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}
