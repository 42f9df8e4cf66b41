package process

import "time"

// EventKind names a lifecycle transition.
type EventKind string

const (
	EventStarted     EventKind = "started"
	EventStartFailed EventKind = "start_failed"
	EventStreamError EventKind = "stream_error"
	EventExited      EventKind = "exited"
	EventRestarting  EventKind = "restarting"
	EventSettled     EventKind = "settled"
)

// Event describes one lifecycle transition of an engine.
type Event struct {
	Time     time.Time
	Kind     EventKind
	Process  string
	RunID    string // identifies one spawn; empty before the first
	PID      int
	ExitCode int
	UpTime   time.Duration
	Tries    int
	Channel  Channel
	Err      error
}

// EventSink receives lifecycle events. Record may be called from several
// goroutines and must not block.
type EventSink interface {
	Record(ev Event)
}
