package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/benaskins/procwatch/internal/spec"
)

// DefaultKillTimeout is how long the CLI waits after SIGTERM before killing
// a child, unless the config or the job overrides it.
const DefaultKillTimeout = 10 * time.Second

// Config holds CLI configuration loaded from ~/.procwatch/config.yaml.
type Config struct {
	LogLevel    string         `yaml:"log_level"`  // debug | info | warn | error
	LogFormat   string         `yaml:"log_format"` // text | json
	MetricsAddr string         `yaml:"metrics_addr"`
	JournalPath string         `yaml:"journal_path"`
	KillTimeout *spec.Duration `yaml:"kill_timeout"`
}

// Dir returns the procwatch state directory: ~/.procwatch.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".procwatch")
}

// DefaultPath returns the default config file path: ~/.procwatch/config.yaml.
func DefaultPath() string {
	dir := Dir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns an empty Config and no error. An empty or all-comment file
// also returns an empty Config with no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that set fields hold known values.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	if c.KillTimeout != nil && c.KillTimeout.Duration < 0 {
		return fmt.Errorf("kill_timeout must not be negative")
	}
	return nil
}

// Level parses LogLevel. Empty means info.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q is invalid: %w", c.LogLevel, err)
	}
	return level, nil
}

// Logger builds the structured logger described by the config.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// KillTimeoutOrDefault returns the configured kill timeout, or
// DefaultKillTimeout when unset.
func (c *Config) KillTimeoutOrDefault() time.Duration {
	if c.KillTimeout == nil {
		return DefaultKillTimeout
	}
	return c.KillTimeout.Duration
}
