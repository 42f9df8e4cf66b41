package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var jobNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// Supervision modes.
const (
	ModeBounded    = "bounded"
	ModePersistent = "persistent"
)

// JobSpec is the top-level structure for a job definition.
type JobSpec struct {
	Job          Job               `yaml:"job"`
	Bounded      *Bounded          `yaml:"bounded,omitempty"`
	Persistent   *Persistent       `yaml:"persistent,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	Stdio        *Stdio            `yaml:"stdio,omitempty"`
	PollInterval Duration          `yaml:"poll_interval,omitempty"`
	KillTimeout  *Duration         `yaml:"kill_timeout,omitempty"`
}

type Job struct {
	Name       string `yaml:"name"`
	Mode       string `yaml:"mode"` // "bounded" | "persistent"
	Command    string `yaml:"command"`
	WorkingDir string `yaml:"working_dir,omitempty"`
}

// Unset fields keep the engine defaults; an explicit zero is applied as is.
type Bounded struct {
	MaxRunning *Duration `yaml:"max_running,omitempty"`
}

type Persistent struct {
	MaxRetries *int      `yaml:"max_retries,omitempty"`
	MinUpTime  *Duration `yaml:"min_uptime,omitempty"`
}

// Stdio redirects child streams to files. Redirected streams are not
// captured.
type Stdio struct {
	Stdin  string `yaml:"stdin,omitempty"`
	Stdout string `yaml:"stdout,omitempty"`
	Stderr string `yaml:"stderr,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "10s", "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Load reads and parses a job spec from a YAML file.
func Load(path string) (*JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spec %s: %w", path, err)
	}

	spec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("spec %s: %w", path, err)
	}
	return spec, nil
}

// Parse decodes and validates a job spec.
func Parse(data []byte) (*JobSpec, error) {
	var spec JobSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("validating: %w", err)
	}
	return &spec, nil
}

// LoadDir reads all YAML job specs from a directory.
func LoadDir(dir string) ([]*JobSpec, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("listing specs in %s: %w", dir, err)
	}

	ymlEntries, err := filepath.Glob(filepath.Join(dir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("listing specs in %s: %w", dir, err)
	}
	entries = append(entries, ymlEntries...)

	var specs []*JobSpec
	seen := make(map[string]string)
	for _, path := range entries {
		spec, err := Load(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[spec.Job.Name]; ok {
			return nil, fmt.Errorf("job %q is defined in both %s and %s", spec.Job.Name, prev, path)
		}
		seen[spec.Job.Name] = path
		specs = append(specs, spec)
	}

	return specs, nil
}

// IsPersistent reports whether the job is restarted under supervision.
func (s *JobSpec) IsPersistent() bool {
	return s.Job.Mode == ModePersistent
}

// Validate checks that a job spec is well-formed.
func (s *JobSpec) Validate() error {
	if s.Job.Name == "" {
		return fmt.Errorf("job.name is required")
	}
	if !jobNameRe.MatchString(s.Job.Name) {
		return fmt.Errorf("job.name %q is invalid: must match ^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$", s.Job.Name)
	}
	if s.Job.Command == "" {
		return fmt.Errorf("job.command is required")
	}

	switch s.Job.Mode {
	case ModeBounded:
		if s.Persistent != nil {
			return fmt.Errorf("persistent is not valid for bounded jobs")
		}
		if b := s.Bounded; b != nil && b.MaxRunning != nil && b.MaxRunning.Duration < 0 {
			return fmt.Errorf("bounded.max_running must not be negative")
		}
	case ModePersistent:
		if s.Bounded != nil {
			return fmt.Errorf("bounded is not valid for persistent jobs")
		}
		if p := s.Persistent; p != nil {
			if p.MaxRetries != nil && *p.MaxRetries < 0 {
				return fmt.Errorf("persistent.max_retries must not be negative")
			}
			if p.MinUpTime != nil && p.MinUpTime.Duration < 0 {
				return fmt.Errorf("persistent.min_uptime must not be negative")
			}
		}
	default:
		return fmt.Errorf("job.mode must be %q or %q, got %q", ModeBounded, ModePersistent, s.Job.Mode)
	}

	if s.PollInterval.Duration < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	if s.KillTimeout != nil && s.KillTimeout.Duration < 0 {
		return fmt.Errorf("kill_timeout must not be negative")
	}

	for k := range s.Env {
		if k == "" {
			return fmt.Errorf("env keys must not be empty")
		}
	}

	return nil
}
