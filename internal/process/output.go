package process

import (
	"errors"
	"io"
	"os"
)

// Channel identifies one of the child's output streams.
type Channel string

const (
	Stdout Channel = "stdout"
	Stderr Channel = "stderr"
)

// OutputFunc receives a chunk of child output.
type OutputFunc func(chunk string)

const readChunkSize = 8192

// Output registers fn for stdout chunks. Callbacks run on the loop in
// registration order; a panicking callback is skipped without affecting the
// others. On platforms without stream capture this is a no-op.
func (e *Engine) Output(fn OutputFunc) *Engine {
	if !e.streaming || fn == nil {
		return e
	}
	e.mu.Lock()
	e.stdoutFns = append(e.stdoutFns, fn)
	e.mu.Unlock()
	return e
}

// ErrorOutput registers fn for stderr chunks, with the same rules as Output.
func (e *Engine) ErrorOutput(fn OutputFunc) *Engine {
	if !e.streaming || fn == nil {
		return e
	}
	e.mu.Lock()
	e.stderrFns = append(e.stderrFns, fn)
	e.mu.Unlock()
	return e
}

// pump reads src until it fails and posts each chunk to the loop, waiting
// while the run's backlog is full. End of stream and reads on a closed pipe
// are not failures.
func (e *Engine) pump(r *run, ch Channel, src io.Reader) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			select {
			case r.backlog <- struct{}{}:
			case <-r.closed:
				e.loop.Post(func() { r.open-- })
				return
			}
			chunk := string(buf[:n])
			e.loop.Post(func() {
				<-r.backlog
				e.dispatch(ch, chunk)
			})
		}
		if err != nil {
			if !isClosed(err) {
				e.loop.Post(func() { e.streamFailed(r, ch, err) })
			}
			e.loop.Post(func() { r.open-- })
			return
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

func (e *Engine) dispatch(ch Channel, chunk string) {
	e.mu.Lock()
	fns := e.stdoutFns
	if ch == Stderr {
		fns = e.stderrFns
	}
	e.mu.Unlock()

	for _, fn := range fns {
		e.invoke(ch, fn, chunk)
	}
}

func (e *Engine) invoke(ch Channel, fn OutputFunc, chunk string) {
	defer func() {
		if r := recover(); r != nil {
			e.log().Debug("output callback panicked", "channel", ch, "panic", r)
		}
	}()
	fn(chunk)
}
