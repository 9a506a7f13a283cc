// Package fsm holds small adapters between plain Go functions and
// looplab/fsm callbacks.
package fsm

import (
	"context"

	"github.com/looplab/fsm"
)

// WrapEvent turns an error returning step into a callback. A non-nil error
// is stored on the event and surfaces as the result of FSM.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// OnTransition returns an "enter_state" callback reporting every completed
// transition together with the event that caused it.
func OnTransition(fn func(ctx context.Context, from, to, event string)) fsm.Callback {
	return func(ctx context.Context, e *fsm.Event) {
		fn(ctx, e.Src, e.Dst, e.Event)
	}
}
