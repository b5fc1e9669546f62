package sampler

import (
	"sync"
	"time"
)

// Window is the exposure window shared by every loop of a run. It opens with
// the first sampling pass of any loop and stays open for its length. A zero
// length never closes.
type Window struct {
	length time.Duration

	mu      sync.Mutex
	start   time.Time
	started bool
}

// NewWindow returns a window of the given length.
func NewWindow(length time.Duration) *Window {
	return &Window{length: length}
}

// Admit opens the window on first use and reports whether now falls inside.
func (w *Window) Admit(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		w.start, w.started = now, true
	}
	return w.length == 0 || now.Sub(w.start) < w.length
}

// End returns the time the window closes. It is false while the window has
// not opened or never closes.
func (w *Window) End() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started || w.length == 0 {
		return time.Time{}, false
	}
	return w.start.Add(w.length), true
}
