package progress

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type captureSink struct {
	fractions []float64
	lines     []string
}

func (c *captureSink) SetProgress(f float64) { c.fractions = append(c.fractions, f) }
func (c *captureSink) Print(line string)     { c.lines = append(c.lines, line) }

func TestRounds(t *testing.T) {
	tests := []struct {
		targets      int
		verifySource bool
		verifyTarget bool
		want         uint
	}{
		{0, true, true, 0},
		{1, false, false, 1},
		{2, false, false, 2},
		{2, true, false, 4},
		{2, true, true, 6},
		{3, false, true, 6},
	}
	for _, tt := range tests {
		if got := Rounds(tt.targets, tt.verifySource, tt.verifyTarget); got != tt.want {
			t.Errorf("Rounds(%d, %v, %v) = %d, want %d", tt.targets, tt.verifySource, tt.verifyTarget, got, tt.want)
		}
	}
}

func TestTrackerAccumulates(t *testing.T) {
	sink := &captureSink{}
	tr := NewTracker(2, sink)

	for _, p := range []uint{0, 50, 100, 50, 100} {
		tr.Report(p)
	}
	want := []float64{0, 0.25, 0.5, 0.75, 1}
	if diff := cmp.Diff(want, sink.fractions, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("fractions mismatch (-want +got):\n%s", diff)
	}
	if tr.Fraction() != 1 {
		t.Errorf("Fraction() = %v, want 1", tr.Fraction())
	}
}

func TestTrackerClamps(t *testing.T) {
	tr := NewTracker(1, nil)
	if got := tr.Report(250); got != 1 {
		t.Errorf("Report(250) = %v, want 1", got)
	}
	// Extra stages past the sized rounds never exceed 1.
	if got := tr.Report(100); got != 1 {
		t.Errorf("Report past rounds = %v, want 1", got)
	}
}

func TestTrackerZeroRounds(t *testing.T) {
	sink := &captureSink{}
	tr := NewTracker(0, sink)
	tr.Report(50)
	tr.Report(100)
	if diff := cmp.Diff([]float64{0, 0}, sink.fractions); diff != "" {
		t.Errorf("fractions mismatch (-want +got):\n%s", diff)
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder(2)
	Multi{r, NewLogSink()}.SetProgress(0.4)
	r.Print("a")
	r.Print("b")
	r.Print("c")

	f, lines := r.Snapshot()
	if f != 0.4 {
		t.Errorf("fraction = %v, want 0.4", f)
	}
	if diff := cmp.Diff([]string{"b", "c"}, lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}

	r.Reset()
	f, lines = r.Snapshot()
	if f != 0 || len(lines) != 0 {
		t.Errorf("after Reset: %v, %v", f, lines)
	}
}
