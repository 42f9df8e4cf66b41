package eventloop

import (
	"sync"
	"time"
)

// Timer is a cancellable one-shot or periodic loop timer.
type Timer struct {
	loop   *Loop
	fn     func()
	period time.Duration

	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

// Stop cancels the timer. A callback already queued on the loop is dropped.
// It reports whether the timer was still active.
func (tm *Timer) Stop() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.stopped {
		return false
	}
	tm.stopped = true
	tm.t.Stop()
	return true
}

// Active reports whether the timer can still fire.
func (tm *Timer) Active() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return !tm.stopped
}

// fire runs on the loop goroutine.
func (tm *Timer) fire() {
	tm.mu.Lock()
	if tm.stopped {
		tm.mu.Unlock()
		return
	}
	if tm.period == 0 {
		tm.stopped = true
	}
	tm.mu.Unlock()

	tm.fn()

	if tm.period == 0 {
		return
	}
	tm.mu.Lock()
	if !tm.stopped {
		tm.t.Reset(tm.period)
	}
	tm.mu.Unlock()
}
