package process

import (
	"fmt"
	"sync"
	"time"

	"github.com/benaskins/procwatch/internal/eventloop"
	"github.com/benaskins/procwatch/internal/future"
)

// DefaultMaxRunning is the ceiling of a Process unless SetMaxRunning
// changes it.
const DefaultMaxRunning = 1800 * time.Second

// Process runs a command once with a hard time limit. Exit code zero
// resolves the future; anything else rejects it. A process that outlives
// its ceiling is terminated with ErrTimeout.
type Process struct {
	*Engine

	mu         sync.Mutex
	maxRunning time.Duration
	timer      *eventloop.Timer
}

// New creates a bounded-lifetime process for cmd.
func New(cmd string, opts ...Option) *Process {
	p := &Process{maxRunning: DefaultMaxRunning}
	p.Engine = newEngine(cmd, FailureObserverFunc(p.streamFailed), opts)
	return p
}

// MaxRunning returns the current ceiling.
func (p *Process) MaxRunning() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxRunning
}

// SetMaxRunning changes the ceiling. While a run is in progress the timer is
// rescheduled so that time already spent counts against the new ceiling.
func (p *Process) SetMaxRunning(d time.Duration) *Process {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.maxRunning = d
	if p.timer != nil {
		p.timer.Stop()
		p.timer = p.loop.AfterFunc(d-p.UpTime(), p.timeout)
	}
	return p
}

// Attach starts the process on the next loop tick and returns its future.
// Later calls return the same future without starting anything.
func (p *Process) Attach(pollInterval time.Duration) *future.Future {
	return p.attach(pollInterval, p.handleExit, p.started)
}

func (p *Process) started(err error) {
	if err != nil {
		p.result.Reject(err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.result.Settled() {
		return
	}
	p.timer = p.loop.AfterFunc(p.maxRunning, p.timeout)
}

func (p *Process) timeout() {
	p.mu.Lock()
	limit := p.maxRunning
	p.timer = nil
	p.mu.Unlock()

	p.log().Warn("process exceeded its maximum running time", "limit", limit)
	p.Terminate(nil, fmt.Errorf("%w after %s", ErrTimeout, limit))
}

func (p *Process) handleExit(code int) {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	if code == 0 {
		p.result.Resolve(nil)
		return
	}
	err := p.capturedStreamErr()
	if err == nil {
		err = &ExitError{Code: code}
	}
	p.result.Reject(err)
}

// streamFailed rejects right away; the child keeps running until it exits,
// times out or is terminated.
func (p *Process) streamFailed(err error) {
	p.result.Reject(err)
}
