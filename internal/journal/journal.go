// Package journal records process lifecycle events to an append-only file.
//
// Each event is one line of JSON, so the journal can be tailed and filtered
// with ordinary line tools.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benaskins/procwatch/internal/process"
)

// Entry is a single journal record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Event     string    `json:"event"`
	Process   string    `json:"process"`
	RunID     string    `json:"run_id,omitempty"`
	PID       int       `json:"pid,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	UpTime    float64   `json:"uptime_seconds,omitempty"`
	Tries     int       `json:"tries,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Journal writes entries to an append-only file.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	logger *slog.Logger
}

// Open creates or opens a journal file for appending, creating its parent
// directory if needed.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &Journal{file: f, path: path, logger: slog.With("component", "journal")}, nil
}

// Path returns the file the journal writes to.
func (j *Journal) Path() string {
	return j.path
}

// Write appends an entry.
func (j *Journal) Write(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing journal entry: %w", err)
	}
	return nil
}

// Record implements process.EventSink. Write failures are logged, not
// returned, since sinks cannot fail the process they observe.
func (j *Journal) Record(ev process.Event) {
	if err := j.Write(FromEvent(ev)); err != nil {
		j.logger.Warn("dropping journal entry", "event", ev.Kind, "error", err)
	}
}

// FromEvent converts a lifecycle event to an entry.
func FromEvent(ev process.Event) Entry {
	e := Entry{
		Timestamp: ev.Time.UTC(),
		Event:     string(ev.Kind),
		Process:   ev.Process,
		RunID:     ev.RunID,
		PID:       ev.PID,
		UpTime:    ev.UpTime.Seconds(),
		Tries:     ev.Tries,
		Channel:   string(ev.Channel),
	}
	if ev.Kind == process.EventExited || ev.Kind == process.EventRestarting {
		code := ev.ExitCode
		e.ExitCode = &code
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}
	return e
}

// Close closes the journal file.
func (j *Journal) Close() error {
	return j.file.Close()
}
