//go:build !windows

package spawn

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func waitDone(t *testing.T, h Handle) int {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
	code, ok := h.Exited()
	if !ok {
		t.Fatal("expected Exited to report ok after Done")
	}
	return code
}

func TestSpawnCapturesStdout(t *testing.T) {
	h, err := Exec{}.Spawn(Config{Command: "echo hello world"})
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}
	defer h.Close()

	if h.Pid() <= 0 {
		t.Errorf("expected positive PID, got %d", h.Pid())
	}

	out, err := io.ReadAll(h.Stdout())
	if err != nil {
		t.Fatalf("reading stdout: %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello world" {
		t.Errorf("stdout = %q, want %q", out, "hello world")
	}
	if code := waitDone(t, h); code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
}

func TestSpawnCapturesStderr(t *testing.T) {
	h, err := Exec{}.Spawn(Config{Command: "echo oops 1>&2"})
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}
	defer h.Close()

	out, _ := io.ReadAll(h.Stderr())
	if strings.TrimSpace(string(out)) != "oops" {
		t.Errorf("stderr = %q, want %q", out, "oops")
	}
	waitDone(t, h)
}

func TestSpawnExitCode(t *testing.T) {
	h, err := Exec{}.Spawn(Config{Command: "exit 3"})
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}
	defer h.Close()

	if code := waitDone(t, h); code != 3 {
		t.Errorf("expected exit code 3, got %d", code)
	}
}

func TestSpawnEnvironmentAndDir(t *testing.T) {
	dir := t.TempDir()
	h, err := Exec{}.Spawn(Config{
		Command:    `printf "%s:%s" "$PROCWATCH_TEST" "$(pwd)"`,
		Env:        []string{"PROCWATCH_TEST=value"},
		WorkingDir: dir,
	})
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}
	defer h.Close()

	out, _ := io.ReadAll(h.Stdout())
	waitDone(t, h)

	resolved, _ := filepath.EvalSymlinks(dir)
	got := string(out)
	if got != "value:"+dir && got != "value:"+resolved {
		t.Errorf("output = %q, want value:%s", got, dir)
	}
}

func TestSpawnRedirectsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	h, err := Exec{}.Spawn(Config{Command: "echo redirected", Stdout: path})
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}
	defer h.Close()

	if h.Stdout() != nil {
		t.Error("expected no stdout reader when stdout is redirected")
	}
	waitDone(t, h)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "redirected" {
		t.Errorf("file content = %q", data)
	}
}

func TestSpawnMissingWorkingDir(t *testing.T) {
	_, err := Exec{}.Spawn(Config{Command: "true", WorkingDir: "/nonexistent/procwatch"})
	if err == nil {
		t.Fatal("expected an error for a missing working directory")
	}
}

func TestSignalStopsProcess(t *testing.T) {
	h, err := Exec{}.Spawn(Config{Command: "exec sleep 60"})
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}
	defer h.Close()

	if err := h.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal failed: %v", err)
	}
	if code := waitDone(t, h); code != -1 {
		t.Errorf("expected -1 for a signalled process, got %d", code)
	}
	if err := h.Signal(syscall.SIGTERM); err != os.ErrProcessDone {
		t.Errorf("expected ErrProcessDone after exit, got %v", err)
	}
}

func TestSignalReachesGroupAfterLeaderExit(t *testing.T) {
	// The shell exits at once; the backgrounded sleep keeps stdout open.
	h, err := Exec{}.Spawn(Config{Command: "sleep 60 & echo started"})
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}
	defer h.Close()

	buf := make([]byte, 64)
	n, err := h.Stdout().Read(buf)
	if err != nil || strings.TrimSpace(string(buf[:n])) != "started" {
		t.Fatalf("read %q, %v", buf[:n], err)
	}
	waitDone(t, h)

	if err := h.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("expected the leftover group member to be signalled, got %v", err)
	}

	eof := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(h.Stdout())
		eof <- err
	}()
	select {
	case err := <-eof:
		if err != nil {
			t.Errorf("reading stdout: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("background member still holds stdout after the group was signalled")
	}
}

func TestCloseUnblocksReaders(t *testing.T) {
	h, err := Exec{}.Spawn(Config{Command: "exec sleep 60"})
	if err != nil {
		t.Fatalf("failed to spawn: %v", err)
	}
	defer h.Signal(syscall.SIGKILL)

	readErr := make(chan error, 1)
	go func() {
		_, err := h.Stdout().Read(make([]byte, 16))
		readErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	h.Close()
	h.Close()

	select {
	case err := <-readErr:
		if err == nil {
			t.Error("expected a read error after Close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader was not unblocked by Close")
	}
}
