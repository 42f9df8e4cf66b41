//go:build windows

package spawn

import (
	"os"
	"os/exec"
)

// DefaultSignal is delivered by a terminate request that names no signal.
var DefaultSignal os.Signal = os.Kill

func shellCommand(command string) (string, []string) {
	return "cmd", []string{"/C", command}
}

func setProcAttr(cmd *exec.Cmd) {}

// signalProcess kills the process: Windows cannot deliver POSIX signals.
func signalProcess(p *process, sig os.Signal) error {
	if _, exited := p.Exited(); exited || p.cmd.Process == nil {
		return os.ErrProcessDone
	}
	return p.cmd.Process.Kill()
}
