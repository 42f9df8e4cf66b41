// Package command normalizes command lines for the host platform before they
// are handed to a shell.
package command

import (
	"os"
	"runtime"
	"strings"
)

// execDirective makes the shell replace itself with the target program so
// signals and exit codes reach the child without an intermediary.
const execDirective = "exec"

// Stdio holds optional file redirections for the three standard streams.
// An empty path means the stream is a pipe owned by the parent.
type Stdio struct {
	Stdin  string
	Stdout string
	Stderr string
}

// Normalize prepares cmd and stdio for the current platform.
func Normalize(cmd string, stdio Stdio) (string, Stdio) {
	return NormalizeFor(runtime.GOOS, cmd, stdio)
}

// NormalizeFor prepares cmd and stdio for the given GOOS.
//
// On POSIX systems the command is prefixed with "exec" unless it already
// starts with it. On Windows the command is left alone and all three streams
// are forced to the null device, since stream capture is unsupported there.
func NormalizeFor(goos, cmd string, stdio Stdio) (string, Stdio) {
	if !StreamingSupportedOn(goos) {
		return cmd, Stdio{Stdin: os.DevNull, Stdout: os.DevNull, Stderr: os.DevNull}
	}
	if hasExecDirective(cmd) {
		return cmd, stdio
	}
	return execDirective + " " + cmd, stdio
}

// StreamingSupported reports whether child output can be captured on the
// current platform.
func StreamingSupported() bool {
	return StreamingSupportedOn(runtime.GOOS)
}

// StreamingSupportedOn reports whether child output can be captured on goos.
func StreamingSupportedOn(goos string) bool {
	return goos != "windows"
}

func hasExecDirective(cmd string) bool {
	fields := strings.Fields(cmd)
	return len(fields) > 0 && fields[0] == execDirective
}
