// Package timectrl paces a step loop either against the wall clock or as
// fast as the loop can run.
package timectrl

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Mode describes how the TimeController paces steps.
type Mode int

const (
	// RealTime waits one Tick of wall-clock time between steps.
	RealTime Mode = iota
	// Accelerated runs steps back to back.
	Accelerated
)

// String renders the mode for logs and flags.
func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// StepFunc performs one step. It reports done once the run has finished.
type StepFunc func(ctx context.Context) (done bool, err error)

// TimeController drives a StepFunc and notifies registered listeners after
// every step.
type TimeController struct {
	mu   sync.RWMutex
	Tick time.Duration
	Mode Mode

	steps     int
	listeners []func(step int)
}

// NewTimeController constructs a controller. A non-positive tick forces
// Accelerated mode since there is nothing to wait for.
func NewTimeController(tick time.Duration, mode Mode) *TimeController {
	if tick <= 0 {
		mode = Accelerated
	}
	return &TimeController{Tick: tick, Mode: mode}
}

// Steps returns the number of steps driven so far.
func (tc *TimeController) Steps() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.steps
}

// AddListener registers a callback invoked with the step count after each
// successful step.
func (tc *TimeController) AddListener(fn func(step int)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Drive calls fn until it reports done, returns an error, or ctx is
// cancelled. In RealTime mode each step waits for the next tick.
func (tc *TimeController) Drive(ctx context.Context, fn StepFunc) error {
	if fn == nil {
		return errors.New("timectrl: nil step function")
	}

	var tick <-chan time.Time
	if tc.Mode == RealTime {
		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		}

		done, err := fn(ctx)
		if err != nil {
			return err
		}

		tc.mu.Lock()
		tc.steps++
		step := tc.steps
		listeners := make([]func(int), len(tc.listeners))
		copy(listeners, tc.listeners)
		tc.mu.Unlock()

		for _, l := range listeners {
			l(step)
		}
		if done {
			return nil
		}
	}
}
