package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/benaskins/procwatch/internal/spec"
)

const (
	watchDebounce = 500 * time.Millisecond

	// DefaultReloadInterval is the minimum spacing between restarts caused by
	// spec changes.
	DefaultReloadInterval = time.Second
)

// activeRun is a job started by Watch.
type activeRun struct {
	cancel context.CancelFunc
	done   chan error
}

func (r *Runner) start(ctx context.Context, js *spec.JobSpec) *activeRun {
	runCtx, cancel := context.WithCancel(ctx)
	a := &activeRun{cancel: cancel, done: make(chan error, 1)}
	go func() {
		a.done <- r.Run(runCtx, js)
	}()
	return a
}

// stop cancels the run and waits for it to wind down. It is a no-op for a
// run whose result was already received.
func (a *activeRun) stop(finished bool) {
	a.cancel()
	if !finished {
		<-a.done
	}
}

// Watch runs the job defined at path and restarts it whenever the file
// changes. An edit that fails to load is logged and the current run is left
// alone. A job that ends on its own is reported and Watch keeps waiting for
// the next change. Watch returns ctx.Err() once ctx is cancelled.
func (r *Runner) Watch(ctx context.Context, path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	js, err := spec.Load(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	r.logger.Info("watching job spec for changes", "file", path)

	every := r.reloadInterval
	if every <= 0 {
		every = DefaultReloadInterval
	}
	limiter := rate.NewLimiter(rate.Every(every), 1)
	reload := make(chan struct{}, 1)
	var debounceTimer *time.Timer

	cur := r.start(ctx, js)
	finished := false

	for {
		var runDone <-chan error
		if !finished {
			runDone = cur.done
		}

		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			cur.stop(finished)
			return ctx.Err()

		case err := <-runDone:
			finished = true
			if err != nil {
				r.logger.Warn("job ended, waiting for changes", "job", js.Job.Name, "error", err)
			} else {
				r.logger.Info("job ended, waiting for changes", "job", js.Job.Name)
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.Debug("job spec changed", "file", event.Name, "op", event.Op)

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if err := limiter.Wait(ctx); err != nil {
				continue
			}
			next, err := spec.Load(path)
			if err != nil {
				r.logger.Error("reload failed, keeping current job", "error", err)
				continue
			}
			r.logger.Info("reloading job after spec change", "job", next.Job.Name)
			cur.stop(finished)
			js = next
			cur = r.start(ctx, js)
			finished = false

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("file watcher error", "error", err)
		}
	}
}
