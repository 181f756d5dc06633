package session

import "time"

// Scheduler plants one-shot callbacks. The production implementation wraps
// time.AfterFunc; tests substitute a manual scheduler so timer-driven paths
// run deterministically.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired.
	Stop() bool
}

type wallScheduler struct{}

// NewWallScheduler returns a Scheduler backed by the runtime timer wheel.
func NewWallScheduler() Scheduler { return wallScheduler{} }

func (wallScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return wallTimer{time.AfterFunc(d, fn)}
}

type wallTimer struct{ t *time.Timer }

func (w wallTimer) Stop() bool { return w.t.Stop() }

// handle owns at most one pending timer for a single concern. Arming
// replaces and cancels whatever was pending, so a concern can never have
// two callbacks in flight.
type handle struct {
	timer Timer
}

func (h *handle) arm(s Scheduler, d time.Duration, fn func()) {
	h.cancel()
	h.timer = s.AfterFunc(d, fn)
}

func (h *handle) cancel() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

func (h *handle) armed() bool { return h.timer != nil }
