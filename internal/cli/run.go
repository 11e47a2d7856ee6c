package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bytefold/memdiff/internal/command"
	"github.com/bytefold/memdiff/internal/remote"
	"github.com/bytefold/memdiff/internal/runner"
	"github.com/bytefold/memdiff/internal/store"
	"github.com/bytefold/memdiff/internal/wire"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config      string
	Addr        string
	Seed        int64
	Policy      string
	MaxCommands int
	Database    string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the remote under test and diff it against the reference model",
		Long: `Start a differential run: connect to the remote implementation under
test, generate random commands, execute each against the local reference
model and the remote, and halt on the first divergence or transport
failure.

The run is reproducible: re-running with the same seed and policy
generates the identical command sequence. When --db is given, every
command and both outcomes are recorded for the trace and replay commands.

Exit codes:
  0 - run completed (command budget reached or interrupted, no divergence)
  1 - divergence or transport failure
  2 - command error (bad config, unreachable remote, storage failure)

Examples:
  memdiff run --addr 127.0.0.1:10203 --seed 42
  memdiff run --policy probe-oob --max-commands 1000 --db ./trace.db
  memdiff run --config run.yaml --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML run config")
	cmd.Flags().StringVar(&opts.Addr, "addr", remote.DefaultAddr, "remote endpoint (host:port)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "generator seed (default: derived from the clock)")
	cmd.Flags().StringVar(&opts.Policy, "policy", string(command.DefaultIndexPolicy),
		"index policy (valid-only|probe-oob)")
	cmd.Flags().IntVar(&opts.MaxCommands, "max-commands", 0, "stop after N matching commands (0 = run until halted)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite path for trace persistence (optional)")

	return cmd
}

// effectiveConfig resolves defaults, config file and flags, in that order.
func effectiveConfig(opts *RunOptions, cmd *cobra.Command) (RunConfig, error) {
	cfg := DefaultRunConfig()
	if opts.Config != "" {
		loaded, err := LoadRunConfig(opts.Config)
		if err != nil {
			return RunConfig{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = opts.Addr
	}
	if flags.Changed("seed") {
		seed := opts.Seed
		cfg.Seed = &seed
	}
	if flags.Changed("policy") {
		cfg.Policy = command.IndexPolicy(opts.Policy)
	}
	if flags.Changed("max-commands") {
		cfg.MaxCommands = opts.MaxCommands
	}
	if flags.Changed("db") {
		cfg.Database = opts.Database
	}

	if _, err := cfg.Policy.Indices(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

func runDiff(opts *RunOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	cfg, err := effectiveConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid run configuration", err)
	}

	// Without an explicit seed the run is still reproducible: the derived
	// seed is logged below.
	seed := time.Now().UnixNano()
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}

	gen, err := command.NewGenerator(seed, cfg.Policy)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid generator configuration", err)
	}
	slog.Info("generator ready", "seed", seed, "policy", string(cfg.Policy))

	runnerOpts := []runner.Option{runner.WithMaxCommands(cfg.MaxCommands)}

	var st *store.Store
	var runID string
	if cfg.Database != "" {
		st, err = store.Open(cfg.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open trace database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing trace database", "error", closeErr)
			}
		}()

		runID, err = st.BeginRun(cmd.Context(), seed, string(cfg.Policy), cfg.Addr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to record run", err)
		}
		slog.Info("trace persistence enabled", "db", cfg.Database, "run", runID)
		runnerOpts = append(runnerOpts, runner.WithRecorder(&storeRecorder{st: st, runID: runID}))
	}

	slog.Info("connecting to remote", "addr", cfg.Addr)
	exec, err := remote.Dial(cfg.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect to remote", err)
	}
	defer func() {
		if closeErr := exec.Close(); closeErr != nil {
			slog.Error("error closing connection", "error", closeErr)
		}
	}()

	// Stop cleanly between commands on Ctrl-C.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	r := runner.New(gen, exec, runnerOpts...)
	rep, err := r.Run(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "run aborted", err)
	}

	slog.Info("number of commands processed", "processed", rep.Processed)

	if st != nil {
		if err := st.FinishRun(context.Background(), runID, string(rep.Halt), rep.Processed); err != nil {
			return WrapExitError(ExitCommandError, "failed to finalize run record", err)
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := renderReport(formatter, rep, opts.Verbose); err != nil {
		return WrapExitError(ExitCommandError, "failed to render report", err)
	}

	switch rep.Halt {
	case runner.HaltDivergence:
		return NewExitError(ExitFailure, "results diverged")
	case runner.HaltTransport:
		return NewExitError(ExitFailure, "communication failure")
	default:
		return nil
	}
}

// configureLogging sets the process-wide slog default: Info normally,
// Debug with --verbose, text handler on stderr.
func configureLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// renderReport writes the end-of-run verdict. The full trace is included in
// JSON always and in text only when verbose.
func renderReport(f *OutputFormatter, rep *runner.Report, verbose bool) error {
	if f.Format == "json" {
		return f.JSON(rep)
	}

	f.Textf("halt:      %s", rep.Halt)
	f.Textf("processed: %d", rep.Processed)
	if rep.Command != "" {
		f.Textf("command:   %s", rep.Command)
		f.Textf("local:     %s", rep.Local)
		f.Textf("remote:    %s", rep.Remote)
	}
	if verbose && len(rep.Trace) > 0 {
		f.Textf("")
		f.Textf("trace:")
		for i, cmd := range rep.Trace {
			f.Textf("  %4d  %s", i+1, cmd)
		}
	}
	return nil
}

// storeRecorder adapts the trace store to the runner's Recorder interface.
type storeRecorder struct {
	st    *store.Store
	runID string
}

func (r *storeRecorder) Record(ctx context.Context, step runner.Step) error {
	frame := wire.EncodeCommand(step.Command)
	if err := r.st.AppendStep(ctx, r.runID, store.Step{
		Seq:      step.Seq,
		Opcode:   frame[0],
		Operand1: frame[1],
		Operand2: frame[2],
		Command:  step.Command.String(),
		Local:    step.Local,
		Remote:   step.Remote,
		Matched:  step.Matched,
	}); err != nil {
		return fmt.Errorf("persist step %d: %w", step.Seq, err)
	}
	return nil
}
