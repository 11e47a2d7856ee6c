package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/bytefold/memdiff/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - defaults to the most recent run
	List     bool
}

// TraceResult holds the complete trace output for one run.
type TraceResult struct {
	Run   store.Run    `json:"run"`
	Steps []store.Step `json:"steps"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the recorded command trace of a run",
		Long: `Print the ordered command timeline of a recorded run: every generated
command with the reference model's outcome, the remote's outcome, and
whether they matched. Defaults to the most recent run.

Examples:
  memdiff trace --db ./trace.db
  memdiff trace --db ./trace.db --run 0190f8a2-...
  memdiff trace --db ./trace.db --list
  memdiff trace --db ./trace.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID (default: most recent run)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list recorded runs instead of showing a trace")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace database", err)
	}
	defer st.Close()

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if opts.List {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		return renderRunList(formatter, runs)
	}

	run, err := loadRun(ctx, st, opts.RunID)
	if err != nil {
		return err
	}

	steps, err := st.ReadSteps(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}

	return renderTrace(formatter, TraceResult{Run: run, Steps: steps})
}

// loadRun resolves an explicit run ID or falls back to the latest run.
func loadRun(ctx context.Context, st *store.Store, runID string) (store.Run, error) {
	if runID != "" {
		run, err := st.GetRun(ctx, runID)
		if errors.Is(err, store.ErrNotFound) {
			return store.Run{}, NewExitError(ExitCommandError, "run not found: "+runID)
		}
		if err != nil {
			return store.Run{}, WrapExitError(ExitCommandError, "failed to load run", err)
		}
		return run, nil
	}

	run, err := st.LatestRun(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return store.Run{}, NewExitError(ExitCommandError, "no recorded runs")
	}
	if err != nil {
		return store.Run{}, WrapExitError(ExitCommandError, "failed to load run", err)
	}
	return run, nil
}

func renderRunList(f *OutputFormatter, runs []store.Run) error {
	if f.Format == "json" {
		return f.JSON(runs)
	}
	if len(runs) == 0 {
		f.Textf("no recorded runs")
		return nil
	}
	for _, run := range runs {
		f.Textf("%s  seed=%d policy=%s endpoint=%s halt=%s processed=%d",
			run.ID, run.Seed, run.Policy, run.Endpoint, run.Halt, run.Processed)
	}
	return nil
}

func renderTrace(f *OutputFormatter, result TraceResult) error {
	if f.Format == "json" {
		return f.JSON(result)
	}

	run := result.Run
	f.Textf("run:       %s", run.ID)
	f.Textf("seed:      %d", run.Seed)
	f.Textf("policy:    %s", run.Policy)
	f.Textf("endpoint:  %s", run.Endpoint)
	f.Textf("halt:      %s", run.Halt)
	f.Textf("processed: %d", run.Processed)
	f.Textf("")

	for _, step := range result.Steps {
		mark := "ok"
		if !step.Matched {
			mark = "MISMATCH"
		}
		f.Textf("%4d  %-16s local=%-12s remote=%-24s %s",
			step.Seq, step.Command, step.Local, step.Remote, mark)
	}
	return nil
}
