package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/benaskins/procwatch/internal/config"
	"github.com/benaskins/procwatch/internal/process"
)

var (
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string
	journalPath string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:               "procwatch",
	Short:             "Run and supervise external commands",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", config.DefaultPath(), "Path to the config file")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	pf.StringVar(&journalPath, "journal", "", "Append lifecycle events to this file")
}

// loadConfig reads the config file and lets flags override it.
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	if logFormat != "" {
		c.LogFormat = logFormat
	}
	if metricsAddr != "" {
		c.MetricsAddr = metricsAddr
	}
	if journalPath != "" {
		c.JournalPath = journalPath
	}
	if err := c.Validate(); err != nil {
		return err
	}

	logger, err := c.Logger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	cfg = c
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode passes a child's own exit status through when that is why the
// job failed.
func exitCode(err error) int {
	var exitErr *process.ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}
