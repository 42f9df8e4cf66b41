package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benaskins/procwatch/internal/process"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	missing := filepath.Join(t.TempDir(), "none.yaml")
	rootCmd.SetArgs(append([]string{"--config", missing}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCheckDirectory(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "good.yaml"), []byte("job: {name: good, mode: bounded, command: 'true'}\n"), 0644)
	os.WriteFile(filepath.Join(dir, "bad.yml"), []byte("job: {name: bad, mode: never, command: 'true'}\n"), 0644)

	out, err := execute(t, "check", dir)
	if err == nil || !strings.Contains(err.Error(), "1 spec(s) failed validation") {
		t.Fatalf("expected one failure, got %v", err)
	}
	if !strings.Contains(out, "OK    ") || !strings.Contains(out, "(good, bounded)") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "1/2 specs valid") {
		t.Errorf("expected summary, got:\n%s", out)
	}
}

func TestCheckJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	os.WriteFile(path, []byte("job: {name: worker, mode: persistent, command: ./worker}\n"), 0644)

	out, err := execute(t, "check", "--json", path)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	var results []checkResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if len(results) != 1 || !results[0].Valid || results[0].Mode != "persistent" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestCheckMissingTarget(t *testing.T) {
	_, err := execute(t, "check", "/nonexistent/procwatch/jobs")
	if err == nil || !strings.Contains(err.Error(), "cannot access") {
		t.Errorf("expected access error, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "procwatch ") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestInvalidLogLevelFlag(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "version")
	if err == nil || !strings.Contains(err.Error(), "log_level") {
		t.Errorf("expected log level error, got %v", err)
	}
	logLevel = ""
}

func TestDefaultJobName(t *testing.T) {
	tests := map[string][]string{
		"sleep":  {"sleep", "10"},
		"worker": {"/usr/local/bin/worker --flag"},
		"job":    {"   "},
	}
	for want, args := range tests {
		if got := defaultJobName(args); got != want {
			t.Errorf("defaultJobName(%q) = %q, want %q", args, got, want)
		}
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(fmt.Errorf("job x: %w", &process.ExitError{Code: 7})); got != 7 {
		t.Errorf("exitCode = %d, want 7", got)
	}
	if got := exitCode(&process.ExitError{Code: -1}); got != 1 {
		t.Errorf("signalled exit should map to 1, got %d", got)
	}
	if got := exitCode(errors.New("other")); got != 1 {
		t.Errorf("exitCode = %d, want 1", got)
	}
}

func TestFinish(t *testing.T) {
	if err := finish(fmt.Errorf("wrapped: %w", context.Canceled)); err != nil {
		t.Errorf("expected cancellation to be treated as success, got %v", err)
	}
	if err := finish(errors.New("boom")); err == nil {
		t.Error("expected other errors to pass through")
	}
}
