package spec

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeSpec(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadBoundedSpec(t *testing.T) {
	path := writeSpec(t, t.TempDir(), "report.yaml", `
job:
  name: nightly-report
  mode: bounded
  command: ./report.sh --full
  working_dir: /srv/reports

bounded:
  max_running: 30m

env:
  REPORT_DAY: monday

stdio:
  stdout: /var/log/report.out

poll_interval: 250ms
kill_timeout: 5s
`)

	spec, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if spec.Job.Name != "nightly-report" {
		t.Errorf("name: got %q", spec.Job.Name)
	}
	if spec.IsPersistent() {
		t.Error("expected a bounded job")
	}
	if spec.Job.Command != "./report.sh --full" {
		t.Errorf("command: got %q", spec.Job.Command)
	}
	if spec.Job.WorkingDir != "/srv/reports" {
		t.Errorf("working_dir: got %q", spec.Job.WorkingDir)
	}
	if spec.Bounded.MaxRunning == nil || spec.Bounded.MaxRunning.Duration != 30*time.Minute {
		t.Errorf("max_running: got %v", spec.Bounded.MaxRunning)
	}
	if spec.Env["REPORT_DAY"] != "monday" {
		t.Errorf("env: got %v", spec.Env)
	}
	if spec.Stdio.Stdout != "/var/log/report.out" {
		t.Errorf("stdio.stdout: got %q", spec.Stdio.Stdout)
	}
	if spec.PollInterval.Duration != 250*time.Millisecond {
		t.Errorf("poll_interval: got %v", spec.PollInterval.Duration)
	}
	if spec.KillTimeout == nil || spec.KillTimeout.Duration != 5*time.Second {
		t.Errorf("kill_timeout: got %v", spec.KillTimeout)
	}
}

func TestLoadPersistentSpec(t *testing.T) {
	path := writeSpec(t, t.TempDir(), "worker.yaml", `
job:
  name: queue-worker
  mode: persistent
  command: ./worker

persistent:
  max_retries: 0
  min_uptime: 2s
`)

	spec, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !spec.IsPersistent() {
		t.Error("expected a persistent job")
	}
	if spec.Persistent.MaxRetries == nil || *spec.Persistent.MaxRetries != 0 {
		t.Errorf("max_retries: expected explicit 0, got %v", spec.Persistent.MaxRetries)
	}
	if spec.Persistent.MinUpTime == nil || spec.Persistent.MinUpTime.Duration != 2*time.Second {
		t.Errorf("min_uptime: got %v", spec.Persistent.MinUpTime)
	}
	if spec.KillTimeout != nil {
		t.Errorf("expected unset kill_timeout, got %v", spec.KillTimeout)
	}
}

func TestLoadExplicitZeroDurations(t *testing.T) {
	dir := t.TempDir()
	path := writeSpec(t, dir, "flaky.yaml", `
job:
  name: flaky
  mode: persistent
  command: ./flaky
persistent:
  min_uptime: 0s
`)
	spec, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if spec.Persistent.MinUpTime == nil || spec.Persistent.MinUpTime.Duration != 0 {
		t.Errorf("min_uptime: expected explicit 0, got %v", spec.Persistent.MinUpTime)
	}

	path = writeSpec(t, dir, "unset.yaml", "job: {name: unset, mode: bounded, command: x}\nbounded: {}\n")
	spec, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if spec.Bounded.MaxRunning != nil {
		t.Errorf("max_running: expected unset, got %v", spec.Bounded.MaxRunning)
	}
}

func TestValidate(t *testing.T) {
	retries := -1
	tests := []struct {
		name string
		spec JobSpec
		want string
	}{
		{"missing name", JobSpec{Job: Job{Mode: ModeBounded, Command: "x"}}, "job.name is required"},
		{"bad name", JobSpec{Job: Job{Name: "-bad", Mode: ModeBounded, Command: "x"}}, "job.name"},
		{"missing command", JobSpec{Job: Job{Name: "a", Mode: ModeBounded}}, "job.command is required"},
		{"bad mode", JobSpec{Job: Job{Name: "a", Mode: "forever", Command: "x"}}, "job.mode must be"},
		{
			"persistent block on bounded",
			JobSpec{Job: Job{Name: "a", Mode: ModeBounded, Command: "x"}, Persistent: &Persistent{}},
			"persistent is not valid",
		},
		{
			"bounded block on persistent",
			JobSpec{Job: Job{Name: "a", Mode: ModePersistent, Command: "x"}, Bounded: &Bounded{}},
			"bounded is not valid",
		},
		{
			"negative retries",
			JobSpec{Job: Job{Name: "a", Mode: ModePersistent, Command: "x"}, Persistent: &Persistent{MaxRetries: &retries}},
			"max_retries",
		},
		{
			"negative max running",
			JobSpec{Job: Job{Name: "a", Mode: ModeBounded, Command: "x"}, Bounded: &Bounded{MaxRunning: &Duration{-time.Second}}},
			"max_running",
		},
		{
			"negative poll interval",
			JobSpec{Job: Job{Name: "a", Mode: ModeBounded, Command: "x"}, PollInterval: Duration{-time.Second}},
			"poll_interval",
		},
		{
			"empty env key",
			JobSpec{Job: Job{Name: "a", Mode: ModeBounded, Command: "x"}, Env: map[string]string{"": "v"}},
			"env keys",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateMinimalSpec(t *testing.T) {
	s := JobSpec{Job: Job{Name: "a", Mode: ModePersistent, Command: "x"}}
	if err := s.Validate(); err != nil {
		t.Errorf("expected minimal spec to validate, got %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeSpec(t, t.TempDir(), "bad.yaml", `
job:
  name: a
  mode: bounded
  command: x
bounded:
  max_running: soon
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("expected duration error, got %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "a.yaml", "job: {name: a, mode: bounded, command: x}\n")
	writeSpec(t, dir, "b.yml", "job: {name: b, mode: persistent, command: y}\n")
	writeSpec(t, dir, "notes.txt", "not a spec")

	specs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
}

func TestLoadDirRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "a.yaml", "job: {name: same, mode: bounded, command: x}\n")
	writeSpec(t, dir, "b.yaml", "job: {name: same, mode: bounded, command: y}\n")

	if _, err := LoadDir(dir); err == nil || !strings.Contains(err.Error(), "defined in both") {
		t.Errorf("expected duplicate error, got %v", err)
	}
}

func TestDurationMarshal(t *testing.T) {
	out, err := yaml.Marshal(Bounded{MaxRunning: &Duration{90 * time.Second}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(out)) != "max_running: 1m30s" {
		t.Errorf("got %q", out)
	}
}
