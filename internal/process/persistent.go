package process

import (
	"sync"
	"time"

	"github.com/benaskins/procwatch/internal/future"
)

const (
	// DefaultMaxRetries is the fast-crash budget of a Persistent process.
	DefaultMaxRetries = 10

	// DefaultMinUpTime is the uptime a run needs to count as healthy.
	DefaultMinUpTime = time.Second
)

// Persistent keeps a command running, restarting it whenever it exits.
//
// A run that stays up for at least the minimum uptime resets the retry
// counter. A shorter run consumes one retry; once the budget is spent the
// future is rejected with an *ExhaustedError and nothing is restarted.
// Terminate is the normal way to stop a persistent process and resolves its
// future.
type Persistent struct {
	*Engine

	mu         sync.Mutex
	maxRetries int
	minUpTime  time.Duration
	tries      int
}

// NewPersistent creates a supervised-restart process for cmd.
func NewPersistent(cmd string, opts ...Option) *Persistent {
	p := &Persistent{
		maxRetries: DefaultMaxRetries,
		minUpTime:  DefaultMinUpTime,
	}
	p.Engine = newEngine(cmd, FailureObserverFunc(p.streamFailed), opts)
	return p
}

// SetMaxRetries sets how many consecutive fast exits are tolerated.
func (p *Persistent) SetMaxRetries(n int) *Persistent {
	p.mu.Lock()
	p.maxRetries = n
	p.mu.Unlock()
	return p
}

// SetMinUpTime sets the uptime a run needs to count as healthy.
func (p *Persistent) SetMinUpTime(d time.Duration) *Persistent {
	p.mu.Lock()
	p.minUpTime = d
	p.mu.Unlock()
	return p
}

// Tries returns the number of consecutive fast exits so far.
func (p *Persistent) Tries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tries
}

// Attach starts supervision on the next loop tick and returns the future
// shared by every run. Later calls return the same future.
func (p *Persistent) Attach(pollInterval time.Duration) *future.Future {
	return p.attach(pollInterval, p.handleExit, p.started)
}

func (p *Persistent) started(err error) {
	if err != nil {
		p.Terminate(nil, err)
	}
}

// streamFailed only notes the failure: the engine keeps it, and it surfaces
// in the ExhaustedError if the retry budget runs out.
func (p *Persistent) streamFailed(err error) {
	p.log().Debug("stream failure deferred under supervision", "error", err)
}

func (p *Persistent) handleExit(code int) {
	if p.result.Settled() {
		return
	}

	up := p.UpTime()
	p.mu.Lock()
	switch {
	case up >= p.minUpTime:
		p.tries = 0
	case p.tries < p.maxRetries:
		p.tries++
	default:
		tries := p.tries
		p.mu.Unlock()

		err := &ExhaustedError{Tries: tries, ExitCode: code, Cause: p.capturedStreamErr()}
		p.log().Error("process exited too quickly, giving up", "tries", tries, "exit_code", code)
		p.result.Reject(err)
		return
	}
	tries := p.tries
	p.mu.Unlock()

	p.log().Info("restarting process", "exit_code", code, "uptime", up, "tries", tries)
	p.emit(Event{Kind: EventRestarting, ExitCode: code, UpTime: up, Tries: tries})
	p.execute(p.started)
}
