package process

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/benaskins/procwatch/internal/eventloop"
	"github.com/benaskins/procwatch/internal/spawn"
)

// fakeHandle is a child process driven by the test.
type fakeHandle struct {
	pid     int
	cfg     spawn.Config
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	// ignoreSignals keeps the fake alive when signalled, except for os.Kill.
	ignoreSignals bool

	mu      sync.Mutex
	exited  bool
	code    int
	closed  bool
	signals []os.Signal
	done    chan struct{}
}

func newFakeHandle(pid int, cfg spawn.Config) *fakeHandle {
	h := &fakeHandle{pid: pid, cfg: cfg, done: make(chan struct{})}
	h.stdoutR, h.stdoutW = io.Pipe()
	h.stderrR, h.stderrW = io.Pipe()
	return h
}

func (h *fakeHandle) Pid() int              { return h.pid }
func (h *fakeHandle) Stdin() io.WriteCloser { return nil }
func (h *fakeHandle) Stdout() io.Reader     { return h.stdoutR }
func (h *fakeHandle) Stderr() io.Reader     { return h.stderrR }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Exited() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code, h.exited
}

// exit ends the fake with code, closing its output like a real child would.
func (h *fakeHandle) exit(code int) {
	h.stdoutW.Close()
	h.stderrW.Close()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return
	}
	h.exited = true
	h.code = code
	close(h.done)
}

func (h *fakeHandle) Signal(sig os.Signal) error {
	h.mu.Lock()
	h.signals = append(h.signals, sig)
	exited := h.exited
	ignore := h.ignoreSignals && sig != os.Kill
	h.mu.Unlock()

	if exited {
		return os.ErrProcessDone
	}
	if !ignore {
		h.exit(-1)
	}
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.stdoutR.Close()
	h.stderrR.Close()
	return nil
}

func (h *fakeHandle) receivedSignals() []os.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]os.Signal(nil), h.signals...)
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// fakeSpawner hands out fakeHandles and reports each one on spawned.
type fakeSpawner struct {
	spawned chan *fakeHandle

	mu            sync.Mutex
	handles       []*fakeHandle
	err           error
	ignoreSignals bool
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{spawned: make(chan *fakeHandle, 64)}
}

func (s *fakeSpawner) Spawn(cfg spawn.Config) (spawn.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	h := newFakeHandle(1000+len(s.handles), cfg)
	h.ignoreSignals = s.ignoreSignals
	s.handles = append(s.handles, h)
	s.spawned <- h
	return h, nil
}

func (s *fakeSpawner) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *fakeSpawner) next(t *testing.T) *fakeHandle {
	t.Helper()
	select {
	case h := <-s.spawned:
		return h
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a spawn")
		return nil
	}
}

// recordingSink collects lifecycle events.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Record(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kinds []EventKind
	for _, ev := range s.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (s *recordingSink) count(kind EventKind) int {
	n := 0
	for _, k := range s.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func startLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	l := eventloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

type waiter interface {
	Wait(ctx context.Context) (any, error)
}

func settle(t *testing.T, f waiter) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	_, err := f.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("future did not settle")
	}
	return err
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
