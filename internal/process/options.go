package process

import (
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"time"

	"github.com/benaskins/procwatch/internal/command"
	"github.com/benaskins/procwatch/internal/eventloop"
	"github.com/benaskins/procwatch/internal/spawn"
)

// Option configures an engine.
type Option func(*options)

type options struct {
	dir         string
	env         []string
	stdio       command.Stdio
	loop        *eventloop.Loop
	spawner     spawn.Spawner
	logger      *slog.Logger
	sinks       []EventSink
	killTimeout time.Duration
	goos        string
}

func defaultOptions() options {
	return options{
		spawner: spawn.Exec{},
		logger:  slog.Default(),
		goos:    runtime.GOOS,
	}
}

// WithDir sets the child's working directory.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithEnv replaces the child's environment. Without it the child inherits
// the parent environment.
func WithEnv(env map[string]string) Option {
	return func(o *options) {
		o.env = make([]string, 0, len(env))
		for _, k := range slices.Sorted(maps.Keys(env)) {
			o.env = append(o.env, k+"="+env[k])
		}
	}
}

// WithStdio redirects standard streams to files. Ignored on Windows, where
// all three streams go to the null device.
func WithStdio(stdio command.Stdio) Option {
	return func(o *options) {
		o.stdio = stdio
	}
}

// WithLoop sets the event loop that drives the engine. Defaults to
// eventloop.Default().
func WithLoop(l *eventloop.Loop) Option {
	return func(o *options) {
		o.loop = l
	}
}

// WithSpawner replaces the process spawner.
func WithSpawner(s spawn.Spawner) Option {
	return func(o *options) {
		o.spawner = s
	}
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithSinks adds lifecycle event sinks.
func WithSinks(sinks ...EventSink) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, sinks...)
	}
}

// WithKillTimeout escalates to SIGKILL when the child is still alive d after
// Terminate delivered its signal. Zero disables escalation.
func WithKillTimeout(d time.Duration) Option {
	return func(o *options) {
		o.killTimeout = d
	}
}

// withGOOS overrides platform detection.
func withGOOS(goos string) Option {
	return func(o *options) {
		o.goos = goos
	}
}
