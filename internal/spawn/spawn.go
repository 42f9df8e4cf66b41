// Package spawn starts child processes through the platform shell and exposes
// their stdio streams and exit status.
package spawn

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Config describes a process to spawn.
type Config struct {
	Command    string   // shell command line
	WorkingDir string   // empty for the parent's working directory
	Env        []string // nil inherits the parent environment

	// Optional file redirections. An empty path gives the parent a pipe.
	Stdin  string
	Stdout string
	Stderr string
}

// Handle is a running (or exited) child process.
type Handle interface {
	// Pid returns the OS process id.
	Pid() int

	// Stdin returns the write end of the child's stdin pipe, or nil when
	// stdin is redirected.
	Stdin() io.WriteCloser

	// Stdout and Stderr return the read ends of the child's output pipes,
	// or nil when the stream is redirected.
	Stdout() io.Reader
	Stderr() io.Reader

	// Exited reports the exit code once the process has been reaped.
	// A process killed by a signal reports -1.
	Exited() (code int, ok bool)

	// Done is closed when the process has been reaped.
	Done() <-chan struct{}

	// Signal delivers sig to the process (its whole group on POSIX, even
	// after the leader has exited). It returns os.ErrProcessDone when
	// nothing is left to signal.
	Signal(sig os.Signal) error

	// Close closes all parent-side stdio pipes. Safe to call repeatedly.
	Close() error
}

// Spawner starts processes.
type Spawner interface {
	Spawn(cfg Config) (Handle, error)
}

// Exec spawns processes with os/exec.
type Exec struct{}

// Spawn starts cfg.Command through the platform shell.
func (Exec) Spawn(cfg Config) (Handle, error) {
	name, args := shellCommand(cfg.Command)
	cmd := exec.Command(name, args...)
	cmd.Env = cfg.Env
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	setProcAttr(cmd)

	p := &process{cmd: cmd, done: make(chan struct{})}

	// childEnds are closed in the parent once the child holds its own copies.
	var childEnds []io.Closer
	fail := func(err error) (Handle, error) {
		for _, c := range childEnds {
			c.Close()
		}
		p.Close()
		return nil, err
	}

	if cfg.Stdin != "" {
		f, err := os.Open(cfg.Stdin)
		if err != nil {
			return fail(fmt.Errorf("opening stdin %s: %w", cfg.Stdin, err))
		}
		childEnds = append(childEnds, f)
		cmd.Stdin = f
	} else {
		w, err := cmd.StdinPipe()
		if err != nil {
			return fail(fmt.Errorf("creating stdin pipe: %w", err))
		}
		p.stdin = w
	}

	out, err := outputEnd(cfg.Stdout, &p.stdout)
	if err != nil {
		return fail(fmt.Errorf("preparing stdout: %w", err))
	}
	childEnds = append(childEnds, out)
	cmd.Stdout = out

	errOut, err := outputEnd(cfg.Stderr, &p.stderr)
	if err != nil {
		return fail(fmt.Errorf("preparing stderr: %w", err))
	}
	childEnds = append(childEnds, errOut)
	cmd.Stderr = errOut

	if err := cmd.Start(); err != nil {
		return fail(fmt.Errorf("starting process: %w", err))
	}
	for _, c := range childEnds {
		c.Close()
	}

	go p.wait()
	return p, nil
}

// outputEnd returns the file the child writes to. With no redirect path it
// creates a pipe and stores the parent's read end in *read.
func outputEnd(path string, read **os.File) (*os.File, error) {
	if path != "" {
		return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	*read = r
	return w, nil
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File

	mu       sync.Mutex
	exited   bool
	exitCode int
	done     chan struct{}

	closeOnce sync.Once
}

func (p *process) wait() {
	err := p.cmd.Wait()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	p.mu.Unlock()
	close(p.done)
}

func (p *process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) Stdin() io.WriteCloser {
	if p.stdin == nil {
		return nil
	}
	return p.stdin
}

func (p *process) Stdout() io.Reader {
	if p.stdout == nil {
		return nil
	}
	return p.stdout
}

func (p *process) Stderr() io.Reader {
	if p.stderr == nil {
		return nil
	}
	return p.stderr
}

func (p *process) Exited() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

func (p *process) Signal(sig os.Signal) error {
	return signalProcess(p, sig)
}

func (p *process) Close() error {
	p.closeOnce.Do(func() {
		if p.stdin != nil {
			p.stdin.Close()
		}
		if p.stdout != nil {
			p.stdout.Close()
		}
		if p.stderr != nil {
			p.stderr.Close()
		}
	})
	return nil
}
