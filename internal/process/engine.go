// Package process supervises a single external program.
//
// An Engine owns one child process at a time and a single settlement future
// for its whole lifetime. Two policies build on it: Process, which bounds how
// long the child may run, and Persistent, which restarts the child when it
// exits unless it keeps failing faster than a minimum uptime.
//
// Lifecycle callbacks (spawn, output dispatch, exit handling, timers) run on
// an eventloop.Loop; the exported methods are safe to call from any
// goroutine.
//
// Owners must call Close when they are done with an engine, typically with
// defer. Close terminates a child that has not settled yet.
package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/benaskins/procwatch/internal/command"
	"github.com/benaskins/procwatch/internal/eventloop"
	"github.com/benaskins/procwatch/internal/future"
	"github.com/benaskins/procwatch/internal/spawn"
)

// DefaultPollInterval is used when Attach is given a non-positive interval.
const DefaultPollInterval = 100 * time.Millisecond

// FailureObserver is told about stream failures. Each policy decides
// whether such a failure is fatal.
type FailureObserver interface {
	StreamFailed(err error)
}

// FailureObserverFunc adapts a function to FailureObserver.
type FailureObserverFunc func(err error)

func (f FailureObserverFunc) StreamFailed(err error) { f(err) }

// Engine runs one external command. Use New or NewPersistent to get one
// wrapped in a policy.
type Engine struct {
	loop        *eventloop.Loop
	spawner     spawn.Spawner
	cfg         spawn.Config
	streaming   bool
	observer    FailureObserver
	sinks       []EventSink
	logger      *slog.Logger
	killTimeout time.Duration
	result      *future.Future

	mu         sync.Mutex
	name       string
	attached   bool
	terminated bool
	interval   time.Duration
	onExit     func(code int)
	timeStart  time.Time
	current    *run
	streamErr  error
	stdoutFns  []OutputFunc
	stderrFns  []OutputFunc
}

// outputBacklog caps the chunks of one run waiting on the loop. A reader
// that hits it stops reading until dispatch catches up.
const outputBacklog = 64

// run is one spawned child. Fields below closeOnce are only touched on the
// loop goroutine.
type run struct {
	id      string
	handle  spawn.Handle
	backlog chan struct{}
	closed  chan struct{}

	closeOnce sync.Once

	poll     *eventloop.Timer
	open     int // output readers not yet drained
	exitSeen bool
	finished bool
}

func newRun(h spawn.Handle) *run {
	return &run{
		id:      uuid.NewString(),
		handle:  h,
		backlog: make(chan struct{}, outputBacklog),
		closed:  make(chan struct{}),
	}
}

// close closes the parent's stdio and releases readers waiting on the
// backlog.
func (r *run) close() {
	r.closeOnce.Do(func() {
		r.handle.Close()
		close(r.closed)
	})
}

func newEngine(cmd string, observer FailureObserver, opts []Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.loop == nil {
		o.loop = eventloop.Default()
	}

	wrapped, stdio := command.NormalizeFor(o.goos, cmd, o.stdio)

	e := &Engine{
		loop:    o.loop,
		spawner: o.spawner,
		cfg: spawn.Config{
			Command:    wrapped,
			WorkingDir: o.dir,
			Env:        o.env,
			Stdin:      stdio.Stdin,
			Stdout:     stdio.Stdout,
			Stderr:     stdio.Stderr,
		},
		streaming:   command.StreamingSupportedOn(o.goos),
		observer:    observer,
		sinks:       o.sinks,
		logger:      o.logger,
		killTimeout: o.killTimeout,
		name:        fmt.Sprintf("default_%d", time.Now().UnixMicro()),
	}
	e.result = future.New(func() {
		e.Terminate(nil, ErrCancelled)
	})
	e.result.Then(
		func(any) { e.emit(Event{Kind: EventSettled}) },
		func(err error) { e.emit(Event{Kind: EventSettled, Err: err}) },
	)
	return e
}

// Name returns the engine's name.
func (e *Engine) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

// SetName sets the engine's name, trimmed of surrounding whitespace.
func (e *Engine) SetName(name string) *Engine {
	e.mu.Lock()
	e.name = strings.TrimSpace(name)
	e.mu.Unlock()
	return e
}

// Future returns the settlement future. It is the same value Attach returns.
func (e *Engine) Future() *future.Future {
	return e.result
}

// UpTime returns how long the current run has been up, or zero if no run
// has started.
func (e *Engine) UpTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timeStart.IsZero() {
		return 0
	}
	return time.Since(e.timeStart)
}

// IsRunning reports whether a child is currently alive.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()
	if cur == nil {
		return false
	}
	_, exited := cur.handle.Exited()
	return !exited
}

// PID returns the current child's process id, or 0 before the first spawn.
func (e *Engine) PID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return 0
	}
	return e.current.handle.Pid()
}

// Stdin returns the current child's stdin, or nil when there is none.
func (e *Engine) Stdin() io.Writer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	return e.current.handle.Stdin()
}

// Start always panics: execution begins only through Attach.
func (e *Engine) Start() {
	panic("process: Start cannot be called directly, use Attach")
}

// Terminate settles the future and stops the current child. The future is
// resolved when err is nil and rejected with err otherwise; only the first
// settlement counts. sig defaults to spawn.DefaultSignal. Terminate is safe
// to call before the child started and more than once.
func (e *Engine) Terminate(sig os.Signal, err error) {
	e.mu.Lock()
	e.terminated = true
	r := e.current
	e.mu.Unlock()

	if r != nil {
		r.close()
		defer e.stop(r.handle, sig)
	}
	if err != nil {
		e.result.Reject(err)
	} else {
		e.result.Resolve(nil)
	}
}

// stop signals the child's process group and arms kill escalation. The
// group is signalled even when the leader has exited, so leftover members
// are not leaked.
func (e *Engine) stop(h spawn.Handle, sig os.Signal) {
	if sig == nil {
		sig = spawn.DefaultSignal
	}
	if serr := h.Signal(sig); serr != nil {
		if !errors.Is(serr, os.ErrProcessDone) {
			e.log().Warn("failed to signal process", "signal", sig, "error", serr)
		}
		return
	}
	if e.killTimeout > 0 {
		e.loop.AfterFunc(e.killTimeout, func() {
			if _, exited := h.Exited(); exited {
				return
			}
			e.log().Warn("process ignored termination, killing", "pid", h.Pid(), "after", e.killTimeout)
			h.Signal(os.Kill)
		})
	}
}

// Close releases the engine. An engine that has not settled is terminated
// with ErrDiscarded; a settled one still has its child stopped.
func (e *Engine) Close() error {
	var err error
	if !e.result.Settled() {
		err = ErrDiscarded
	}
	e.Terminate(nil, err)
	return nil
}

// attach wires the policy's exit handler and spawns the first run. Only the
// first call has any effect; every call returns the same future.
func (e *Engine) attach(interval time.Duration, onExit func(code int), onSpawn func(err error)) *future.Future {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	e.mu.Lock()
	if e.attached {
		e.mu.Unlock()
		return e.result
	}
	e.attached = true
	e.interval = interval
	e.onExit = onExit
	e.mu.Unlock()

	e.execute(onSpawn)
	return e.result
}

// execute spawns a new run on the next loop tick. onSpawn receives the
// spawn error, if any; it is not called when the engine was terminated in
// the meantime.
func (e *Engine) execute(onSpawn func(err error)) {
	e.mu.Lock()
	e.timeStart = time.Time{}
	e.mu.Unlock()

	e.loop.Post(func() {
		spawned, err := e.spawn()
		if spawned && onSpawn != nil {
			onSpawn(err)
		}
	})
}

func (e *Engine) spawn() (bool, error) {
	e.mu.Lock()
	if e.terminated || e.result.Settled() {
		e.mu.Unlock()
		return false, nil
	}
	interval := e.interval
	e.timeStart = time.Now()
	h, err := e.spawner.Spawn(e.cfg)
	if err != nil {
		e.timeStart = time.Time{}
		e.mu.Unlock()

		serr := &StartError{Err: err}
		e.log().Error("failed to start process", "error", err)
		e.emit(Event{Kind: EventStartFailed, Err: serr})
		return true, serr
	}
	r := newRun(h)
	e.current = r
	e.mu.Unlock()

	if e.streaming {
		if out := h.Stdout(); out != nil {
			r.open++
			go e.pump(r, Stdout, out)
		}
		if errOut := h.Stderr(); errOut != nil {
			r.open++
			go e.pump(r, Stderr, errOut)
		}
	}
	r.poll = e.loop.Every(interval, func() { e.poll(r) })

	e.log().Info("process started", "pid", h.Pid(), "run_id", r.id)
	e.emit(Event{Kind: EventStarted, RunID: r.id, PID: h.Pid()})
	return true, nil
}

// poll runs on the loop every poll interval and delivers the exit once the
// child has been reaped. Output already read is dispatched first; readers
// that have not drained one poll after exit are cut off.
func (e *Engine) poll(r *run) {
	if r.finished {
		return
	}
	code, exited := r.handle.Exited()
	if !exited {
		return
	}
	if r.open > 0 && !r.exitSeen {
		r.exitSeen = true
		return
	}
	r.finished = true
	r.poll.Stop()
	r.close()

	up := e.UpTime()
	e.log().Info("process exited", "exit_code", code, "uptime", up, "run_id", r.id)
	e.emit(Event{Kind: EventExited, RunID: r.id, PID: r.handle.Pid(), ExitCode: code, UpTime: up})

	e.mu.Lock()
	onExit := e.onExit
	e.mu.Unlock()
	if onExit != nil {
		onExit(code)
	}
}

func (e *Engine) streamFailed(r *run, ch Channel, err error) {
	serr := &StreamError{Channel: ch, Err: err}
	e.mu.Lock()
	e.streamErr = serr
	e.mu.Unlock()

	e.log().Warn("output stream failed", "channel", ch, "error", err, "run_id", r.id)
	e.emit(Event{Kind: EventStreamError, RunID: r.id, Channel: ch, Err: serr})
	if e.observer != nil {
		e.observer.StreamFailed(serr)
	}
}

// capturedStreamErr returns the last stream failure seen by the engine.
func (e *Engine) capturedStreamErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamErr
}

func (e *Engine) log() *slog.Logger {
	return e.logger.With("process", e.Name())
}

func (e *Engine) emit(ev Event) {
	if len(e.sinks) == 0 {
		return
	}
	ev.Time = time.Now()
	ev.Process = e.Name()
	if ev.RunID == "" {
		e.mu.Lock()
		if e.current != nil {
			ev.RunID = e.current.id
		}
		e.mu.Unlock()
	}
	for _, s := range e.sinks {
		s.Record(ev)
	}
}
