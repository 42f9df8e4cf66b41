// Package runner drives a job definition through the process engine: it
// picks the supervision policy, forwards the child's output, and maps the
// settled future to an error.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/benaskins/procwatch/internal/command"
	"github.com/benaskins/procwatch/internal/eventloop"
	"github.com/benaskins/procwatch/internal/future"
	"github.com/benaskins/procwatch/internal/logbuf"
	"github.com/benaskins/procwatch/internal/process"
	"github.com/benaskins/procwatch/internal/spawn"
	"github.com/benaskins/procwatch/internal/spec"
)

const (
	defaultTailLines = 20

	// stopGrace is added to the kill timeout while waiting for a terminated
	// child to go away.
	stopGrace = time.Second
)

// Runner runs job specs.
type Runner struct {
	loop           *eventloop.Loop
	spawner        spawn.Spawner
	sinks          []process.EventSink
	logger         *slog.Logger
	stdout         io.Writer
	stderr         io.Writer
	styled         bool
	killTimeout    time.Duration
	tailLines      int
	inheritEnv     bool
	reloadInterval time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLoop sets the event loop. Defaults to eventloop.Default().
func WithLoop(l *eventloop.Loop) Option {
	return func(r *Runner) { r.loop = l }
}

// WithSpawner replaces the process spawner.
func WithSpawner(s spawn.Spawner) Option {
	return func(r *Runner) { r.spawner = s }
}

// WithSinks adds lifecycle event sinks to every job.
func WithSinks(sinks ...process.EventSink) Option {
	return func(r *Runner) { r.sinks = append(r.sinks, sinks...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithOutput sets where child stdout and stderr are forwarded. A nil writer
// drops that stream.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// WithStyle enables colored line prefixes.
func WithStyle(styled bool) Option {
	return func(r *Runner) { r.styled = styled }
}

// WithKillTimeout sets the kill escalation used by jobs that do not set
// their own.
func WithKillTimeout(d time.Duration) Option {
	return func(r *Runner) { r.killTimeout = d }
}

// WithTailLines sets how many output lines are kept for failure reports.
func WithTailLines(n int) Option {
	return func(r *Runner) { r.tailLines = n }
}

// WithInheritEnv controls whether children start from the runner's own
// environment. On by default.
func WithInheritEnv(inherit bool) Option {
	return func(r *Runner) { r.inheritEnv = inherit }
}

// WithReloadInterval sets the minimum spacing between restarts in watch
// mode. Defaults to DefaultReloadInterval.
func WithReloadInterval(d time.Duration) Option {
	return func(r *Runner) { r.reloadInterval = d }
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		logger:     slog.Default(),
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		tailLines:  defaultTailLines,
		inheritEnv: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.loop == nil {
		r.loop = eventloop.Default()
	}
	return r
}

// supervised is what both policies offer once built.
type supervised interface {
	Attach(pollInterval time.Duration) *future.Future
	Output(fn process.OutputFunc) *process.Engine
	ErrorOutput(fn process.OutputFunc) *process.Engine
	Terminate(sig os.Signal, err error)
	IsRunning() bool
	Close() error
}

// Run executes js until its future settles or ctx is cancelled. A cancelled
// context terminates the child and returns ctx.Err().
func (r *Runner) Run(ctx context.Context, js *spec.JobSpec) error {
	logger := r.logger.With("job", js.Job.Name)
	p := r.build(js, logger)
	defer p.Close()

	tail := logbuf.New(r.tailLines)
	p.Output(tail.Writer(string(process.Stdout)))
	p.ErrorOutput(tail.Writer(string(process.Stderr)))
	if r.stdout != nil {
		p.Output(newPrefixWriter(r.stdout, js.Job.Name, stdoutStyle, r.styled).Write)
	}
	if r.stderr != nil {
		p.ErrorOutput(newPrefixWriter(r.stderr, js.Job.Name, stderrStyle, r.styled).Write)
	}

	logger.Info("starting job", "mode", js.Job.Mode, "command", js.Job.Command)
	f := p.Attach(js.PollInterval.Duration)

	select {
	case <-f.Done():
	case <-ctx.Done():
		logger.Info("stopping job", "reason", context.Cause(ctx))
		p.Terminate(nil, ctx.Err())
		r.waitStopped(p, r.killTimeoutFor(js))
		return ctx.Err()
	}

	if err := f.Err(); err != nil {
		tail.Flush()
		attrs := []any{"error", err}
		if lines := tail.Lines(); len(lines) > 0 {
			attrs = append(attrs, "tail", tail.String())
		}
		logger.Error("job failed", attrs...)
		return fmt.Errorf("job %s: %w", js.Job.Name, err)
	}
	logger.Info("job completed")
	return nil
}

func (r *Runner) build(js *spec.JobSpec, logger *slog.Logger) supervised {
	opts := []process.Option{
		process.WithLoop(r.loop),
		process.WithLogger(logger),
		process.WithSinks(r.sinks...),
		process.WithKillTimeout(r.killTimeoutFor(js)),
		process.WithDir(js.Job.WorkingDir),
		process.WithEnv(buildEnv(r.inheritEnv, js.Env)),
	}
	if r.spawner != nil {
		opts = append(opts, process.WithSpawner(r.spawner))
	}
	if s := js.Stdio; s != nil {
		opts = append(opts, process.WithStdio(command.Stdio{
			Stdin:  s.Stdin,
			Stdout: s.Stdout,
			Stderr: s.Stderr,
		}))
	}

	if js.IsPersistent() {
		p := process.NewPersistent(js.Job.Command, opts...)
		p.SetName(js.Job.Name)
		if c := js.Persistent; c != nil {
			if c.MaxRetries != nil {
				p.SetMaxRetries(*c.MaxRetries)
			}
			if c.MinUpTime != nil {
				p.SetMinUpTime(c.MinUpTime.Duration)
			}
		}
		return p
	}

	p := process.New(js.Job.Command, opts...)
	p.SetName(js.Job.Name)
	if b := js.Bounded; b != nil && b.MaxRunning != nil {
		p.SetMaxRunning(b.MaxRunning.Duration)
	}
	return p
}

func (r *Runner) killTimeoutFor(js *spec.JobSpec) time.Duration {
	if js.KillTimeout != nil {
		return js.KillTimeout.Duration
	}
	return r.killTimeout
}

// waitStopped gives a terminated child time to exit, so kill escalation can
// still run before the caller moves on.
func (r *Runner) waitStopped(p supervised, killTimeout time.Duration) {
	deadline := time.Now().Add(killTimeout + stopGrace)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for p.IsRunning() && time.Now().Before(deadline) {
		<-ticker.C
	}
	if p.IsRunning() {
		r.logger.Warn("child still running after termination", "waited", killTimeout+stopGrace)
	}
}

// buildEnv merges the job's variables over the inherited environment.
func buildEnv(inherit bool, jobEnv map[string]string) map[string]string {
	env := make(map[string]string)
	if inherit {
		for _, kv := range os.Environ() {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				continue
			}
			env[k] = v
		}
	}
	for k, v := range jobEnv {
		env[k] = v
	}
	return env
}

// IsCancelled reports whether err only reflects a cancelled run.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
