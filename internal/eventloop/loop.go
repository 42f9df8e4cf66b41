// Package eventloop provides a single-goroutine task loop with timers.
//
// Every task and timer callback runs on the goroutine that called Run, one at
// a time, so state touched only from loop callbacks needs no locking. Tasks
// posted while a tick is running are executed on the next tick.
package eventloop

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Loop executes posted tasks serially.
type Loop struct {
	logger *slog.Logger

	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
}

// New creates a loop. Nothing runs until Run is called.
func New() *Loop {
	return &Loop{
		logger: slog.With("component", "eventloop"),
		wake:   make(chan struct{}, 1),
	}
}

var (
	defaultOnce sync.Once
	defaultLoop *Loop
)

// Default returns a process-wide loop that is started on first use and
// runs for the lifetime of the program.
func Default() *Loop {
	defaultOnce.Do(func() {
		defaultLoop = New()
		go defaultLoop.Run(context.Background())
	})
	return defaultLoop
}

// Post schedules fn to run on the next tick. Safe for concurrent use.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drives the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		batch := l.tasks
		l.tasks = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.call(fn)
		}
		if len(batch) > 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", "panic", r)
		}
	}()
	fn()
}

// AfterFunc runs fn on the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	return l.newTimer(d, 0, fn)
}

// Every runs fn on the loop every d until the timer is stopped.
func (l *Loop) Every(d time.Duration, fn func()) *Timer {
	return l.newTimer(d, d, fn)
}

func (l *Loop) newTimer(d, period time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	tm := &Timer{loop: l, fn: fn, period: period}
	tm.mu.Lock()
	tm.t = time.AfterFunc(d, func() { l.Post(tm.fire) })
	tm.mu.Unlock()
	return tm
}
