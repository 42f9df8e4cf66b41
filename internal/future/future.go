// Package future implements a single-assignment result cell with
// cancellation support.
package future

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrCancelled is the rejection used when Cancel is called and the
// cancellation hook did not settle the future itself.
var ErrCancelled = errors.New("future cancelled")

// Future is settled at most once, either resolved with a value or rejected
// with an error. Later settlement attempts are ignored.
type Future struct {
	onCancel func()

	mu        sync.Mutex
	settled   bool
	cancelled bool
	value     any
	err       error
	done      chan struct{}
	callbacks []func(value any, err error)
}

// New creates a pending future. onCancel, if not nil, is invoked once when
// Cancel is called on a pending future.
func New(onCancel func()) *Future {
	return &Future{
		onCancel: onCancel,
		done:     make(chan struct{}),
	}
}

// Resolve settles the future with value. It reports whether this call
// settled it.
func (f *Future) Resolve(value any) bool {
	return f.settle(value, nil)
}

// Reject settles the future with err. A nil err is replaced by a generic
// error so a rejection is always observable. It reports whether this call
// settled it.
func (f *Future) Reject(err error) bool {
	if err == nil {
		err = errors.New("future rejected")
	}
	return f.settle(nil, err)
}

func (f *Future) settle(value any, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value = value
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		run(cb, value, err)
	}
	return true
}

// run invokes cb, recovering a panic so the remaining callbacks and the
// settling caller carry on.
func run(cb func(value any, err error), value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("future callback panicked", "panic", r)
		}
	}()
	cb(value, err)
}

// Cancel runs the cancellation hook of a pending future. If the hook leaves
// the future pending, it is rejected with ErrCancelled. Cancelling a settled
// future is a no-op.
func (f *Future) Cancel() {
	f.mu.Lock()
	if f.settled || f.cancelled {
		f.mu.Unlock()
		return
	}
	f.cancelled = true
	f.mu.Unlock()

	if f.onCancel != nil {
		f.onCancel()
	}
	f.Reject(ErrCancelled)
}

// Then registers callbacks for resolution and rejection. Either may be nil.
// Callbacks registered after settlement run immediately on the caller's
// goroutine; otherwise they run on the goroutine that settles the future.
// A panicking callback is logged and does not stop the others.
func (f *Future) Then(onResolve func(value any), onReject func(err error)) {
	f.subscribe(func(value any, err error) {
		if err != nil {
			if onReject != nil {
				onReject(err)
			}
			return
		}
		if onResolve != nil {
			onResolve(value)
		}
	})
}

// Always registers fn to run once the future settles, whatever the outcome.
func (f *Future) Always(fn func()) {
	f.subscribe(func(any, error) { fn() })
}

func (f *Future) subscribe(cb func(value any, err error)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	value, err := f.value, f.err
	f.mu.Unlock()
	run(cb, value, err)
}

// Done returns a channel closed when the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has been resolved or rejected.
func (f *Future) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Result returns the settled value and error. Both are zero while pending.
func (f *Future) Result() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Err returns the rejection error, or nil if pending or resolved.
func (f *Future) Err() error {
	_, err := f.Result()
	return err
}

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
