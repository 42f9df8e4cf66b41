//go:build !windows

package spawn

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultSignal is delivered by a terminate request that names no signal.
var DefaultSignal os.Signal = unix.SIGTERM

func shellCommand(command string) (string, []string) {
	return "/bin/sh", []string{"-c", command}
}

// setProcAttr puts the child in its own process group so the whole tree
// can be signalled.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcess signals the child's process group. The group outlives a
// reaped leader while any member is still running.
func signalProcess(p *process, sig os.Signal) error {
	proc := p.cmd.Process
	if proc == nil {
		return os.ErrProcessDone
	}
	s, ok := sig.(syscall.Signal)
	if !ok {
		if _, exited := p.Exited(); exited {
			return os.ErrProcessDone
		}
		return proc.Signal(sig)
	}
	err := unix.Kill(-proc.Pid, s)
	if err == unix.ESRCH {
		return os.ErrProcessDone
	}
	return err
}
