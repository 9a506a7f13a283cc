// Package progress turns per-stage engine percentages into a session-wide
// completion fraction and forwards it to the UI surface.
package progress

import (
	"github.com/autopeer-io/fota/internal/fotaagent/core"
)

// Rounds returns the number of progress rounds of a session: one update
// stage per target plus every enabled verification stage.
func Rounds(targets int, verifySource, verifyTarget bool) uint {
	per := uint(1)
	if verifySource {
		per++
	}
	if verifyTarget {
		per++
	}
	return uint(targets) * per
}

// Tracker accumulates stage percentages over a fixed number of rounds.
// It is driven from the engine's thread only.
type Tracker struct {
	rounds      uint
	accumulated uint
	sink        core.ProgressSink
}

func NewTracker(rounds uint, sink core.ProgressSink) *Tracker {
	return &Tracker{rounds: rounds, sink: sink}
}

// Report records the percentage of the current stage and returns the
// session fraction that was displayed. Reporting 100 completes the stage;
// the next stage sweeps 0..100 on top of it.
func (t *Tracker) Report(percent uint) float64 {
	if percent > 100 {
		percent = 100
	}
	f := t.fraction(t.accumulated + percent)
	if t.sink != nil {
		t.sink.SetProgress(f)
	}
	if percent == 100 {
		t.accumulated += 100
	}
	return f
}

func (t *Tracker) Fraction() float64 {
	return t.fraction(t.accumulated)
}

func (t *Tracker) Rounds() uint {
	return t.rounds
}

func (t *Tracker) fraction(units uint) float64 {
	if t.rounds == 0 {
		return 0
	}
	f := float64(units) / (float64(t.rounds) * 100)
	if f > 1 {
		f = 1
	}
	return f
}
