package process

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout rejects a bounded process that outlived its ceiling.
	ErrTimeout = errors.New("process timed out")

	// ErrCancelled rejects a process whose future was cancelled.
	ErrCancelled = errors.New("process promise has been cancelled")

	// ErrDiscarded rejects a process closed by its owner before it settled.
	ErrDiscarded = errors.New("process is terminated because owner was discarded")
)

// StartError reports that the process could not be spawned.
type StartError struct {
	Err error
}

func (e *StartError) Error() string { return fmt.Sprintf("spawn failed: %v", e.Err) }
func (e *StartError) Unwrap() error { return e.Err }

// StreamError reports a read failure on one of the child's output streams.
type StreamError struct {
	Channel Channel
	Err     error
}

func (e *StreamError) Error() string { return fmt.Sprintf("%s stream: %v", e.Channel, e.Err) }
func (e *StreamError) Unwrap() error { return e.Err }

// ExitError reports a non-zero exit code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("process exited with code: %d", e.Code) }

// ExhaustedError reports that a persistent process kept exiting before its
// minimum uptime until the retry budget ran out.
type ExhaustedError struct {
	Tries    int
	ExitCode int
	Cause    error // stream error captured during supervision, if any
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("exited too quickly after %d tries with exit code: %d", e.Tries, e.ExitCode)
	if e.Cause != nil {
		msg += " and exception"
	}
	return msg
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }
