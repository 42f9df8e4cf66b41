package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/procwatch/internal/spec"
)

var runCmd = &cobra.Command{
	Use:   "run <job.yaml>",
	Short: "Run a job defined in a spec file",
	Long:  "Load a YAML job spec and run it in the foreground. With --watch the job is restarted whenever the file changes.",
	Args:  cobra.ExactArgs(1),
	RunE:  runJob,
}

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- <command>...",
	Short: "Run a command once with a time limit",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExec,
}

var keepCmd = &cobra.Command{
	Use:   "keep [flags] -- <command>...",
	Short: "Keep a command running, restarting it when it exits",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runKeep,
}

var (
	watchSpec bool

	jobName      string
	pollInterval time.Duration
	execTimeout  time.Duration
	keepRetries  int
	keepMinUp    time.Duration
)

func init() {
	runCmd.Flags().BoolVar(&watchSpec, "watch", false, "Restart the job when the spec file changes")

	for _, c := range []*cobra.Command{execCmd, keepCmd} {
		c.Flags().StringVar(&jobName, "name", "", "Job name used in logs and metrics (default: first word of the command)")
		c.Flags().DurationVar(&pollInterval, "poll-interval", 0, "How often to check whether the child exited (default 100ms)")
	}
	execCmd.Flags().DurationVar(&execTimeout, "timeout", 30*time.Minute, "Terminate the command after this long")
	keepCmd.Flags().IntVar(&keepRetries, "max-retries", 10, "Consecutive fast exits tolerated before giving up")
	keepCmd.Flags().DurationVar(&keepMinUp, "min-uptime", time.Second, "Uptime after which a run counts as healthy")

	rootCmd.AddCommand(runCmd, execCmd, keepCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if watchSpec {
		return finish(s.runner.Watch(ctx, args[0]))
	}

	js, err := spec.Load(args[0])
	if err != nil {
		return err
	}
	return finish(s.runner.Run(ctx, js))
}

func runExec(cmd *cobra.Command, args []string) error {
	js := adHocJob(spec.ModeBounded, args)
	js.Bounded = &spec.Bounded{MaxRunning: &spec.Duration{Duration: execTimeout}}
	return runAdHoc(js)
}

func runKeep(cmd *cobra.Command, args []string) error {
	js := adHocJob(spec.ModePersistent, args)
	retries := keepRetries
	js.Persistent = &spec.Persistent{
		MaxRetries: &retries,
		MinUpTime:  &spec.Duration{Duration: keepMinUp},
	}
	return runAdHoc(js)
}

func adHocJob(mode string, args []string) *spec.JobSpec {
	name := jobName
	if name == "" {
		name = defaultJobName(args)
	}
	return &spec.JobSpec{
		Job: spec.Job{
			Name:    name,
			Mode:    mode,
			Command: strings.Join(args, " "),
		},
		PollInterval: spec.Duration{Duration: pollInterval},
	}
}

// defaultJobName derives a job name from the program being run.
func defaultJobName(args []string) string {
	fields := strings.Fields(args[0])
	if len(fields) == 0 {
		return "job"
	}
	prog := fields[0]
	if i := strings.LastIndexByte(prog, '/'); i >= 0 {
		prog = prog[i+1:]
	}
	if prog == "" {
		return "job"
	}
	return prog
}

func runAdHoc(js *spec.JobSpec) error {
	if err := js.Validate(); err != nil {
		return err
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()
	return finish(s.runner.Run(ctx, js))
}
