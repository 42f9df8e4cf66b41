package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/benaskins/procwatch/internal/config"
	"github.com/benaskins/procwatch/internal/spec"
)

type checkResult struct {
	Path  string `json:"path"`
	Name  string `json:"name,omitempty"`
	Mode  string `json:"mode,omitempty"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check [file-or-dir]",
	Short: "Validate job spec files",
	Long:  "Parse and validate YAML job specs. Checks a specific file, a directory, or the default job directory (~/.procwatch/jobs/).",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().Bool("json", false, "Print results as JSON")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	target := defaultJobDir()
	if len(args) > 0 {
		target = args[0]
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", target, err)
	}

	var files []string
	if info.IsDir() {
		yamlFiles, _ := filepath.Glob(filepath.Join(target, "*.yaml"))
		ymlFiles, _ := filepath.Glob(filepath.Join(target, "*.yml"))
		files = append(yamlFiles, ymlFiles...)
		if len(files) == 0 {
			return fmt.Errorf("no YAML files found in %s", target)
		}
	} else {
		files = []string{target}
	}

	var results []checkResult
	var failed int
	for _, path := range files {
		s, err := spec.Load(path)
		if err != nil {
			results = append(results, checkResult{Path: path, Valid: false, Error: err.Error()})
			failed++
		} else {
			results = append(results, checkResult{Path: path, Name: s.Job.Name, Mode: s.Job.Mode, Valid: true})
		}
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Valid {
				fmt.Fprintf(out, "OK    %s (%s, %s)\n", r.Path, r.Name, r.Mode)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "FAIL  %s\n      %v\n", r.Path, r.Error)
			}
		}
		if len(files) > 1 {
			fmt.Fprintf(out, "\n%d/%d specs valid\n", len(files)-failed, len(files))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d spec(s) failed validation", failed)
	}
	return nil
}

func defaultJobDir() string {
	dir := config.Dir()
	if dir == "" {
		return "."
	}
	return filepath.Join(dir, "jobs")
}
