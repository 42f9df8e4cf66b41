package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/benaskins/procwatch/internal/journal"
	"github.com/benaskins/procwatch/internal/metrics"
	"github.com/benaskins/procwatch/internal/process"
	"github.com/benaskins/procwatch/internal/runner"
)

// session holds what a job-running command sets up around the runner.
type session struct {
	runner  *runner.Runner
	journal *journal.Journal
	server  *http.Server
}

func newSession() (*session, error) {
	s := &session{}
	var sinks []process.EventSink

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		s.journal = j
		sinks = append(sinks, j)
	}

	if cfg.MetricsAddr != "" {
		sink := metrics.New("procwatch")
		sinks = append(sinks, sink)

		mux := http.NewServeMux()
		mux.Handle("/metrics", sink.Handler())
		s.server = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		}()
		slog.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	s.runner = runner.New(
		runner.WithSinks(sinks...),
		runner.WithStyle(term.IsTerminal(int(os.Stdout.Fd()))),
		runner.WithKillTimeout(cfg.KillTimeoutOrDefault()),
	)
	return s, nil
}

func (s *session) Close() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
	}
	if s.journal != nil {
		s.journal.Close()
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel(fmt.Errorf("received %s", sig))
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel(nil)
	}
}

// finish treats a signal-initiated stop as success.
func finish(err error) error {
	if err == nil || runner.IsCancelled(err) {
		return nil
	}
	return err
}
