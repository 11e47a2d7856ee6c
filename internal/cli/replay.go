package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/bytefold/memdiff/internal/model"
	"github.com/bytefold/memdiff/internal/remote"
	"github.com/bytefold/memdiff/internal/runner"
	"github.com/bytefold/memdiff/internal/store"
	"github.com/bytefold/memdiff/internal/wire"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string
	Addr     string // optional - also re-drive the remote
}

// ReplayMismatch describes the first step whose replayed outcome differs
// from the recorded one.
type ReplayMismatch struct {
	Seq      int    `json:"seq"`
	Command  string `json:"command"`
	Recorded string `json:"recorded"`
	Replayed string `json:"replayed"`
}

// ReplayResult holds the replay verdict.
type ReplayResult struct {
	RunID         string          `json:"run_id"`
	Steps         int             `json:"steps"`
	Deterministic bool            `json:"deterministic"`
	Mismatch      *ReplayMismatch `json:"mismatch,omitempty"`

	// Remote re-run verdict, present only with --addr.
	Remote *runner.Report `json:"remote,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-execute a recorded run and verify its outcomes",
		Long: `Replay a recorded run's command sequence against a fresh reference
model and verify that every recorded local outcome is reproduced. With
--addr the same sequence is additionally re-driven against a remote and
the comparison policy re-applied, which reproduces a recorded divergence
against a still-buggy remote.

Exit codes:
  0 - replay reproduced all recorded outcomes
  1 - replay differed from the recording (non-deterministic or fixed remote)
  2 - command error

Examples:
  memdiff replay --db ./trace.db
  memdiff replay --db ./trace.db --run 0190f8a2-...
  memdiff replay --db ./trace.db --addr 127.0.0.1:10203`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID (default: most recent run)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "re-drive the remote at this endpoint as well")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace database", err)
	}
	defer st.Close()

	run, err := loadRun(ctx, st, opts.RunID)
	if err != nil {
		return err
	}

	steps, err := st.ReadSteps(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}

	result, err := replayLocal(run.ID, steps)
	if err != nil {
		return err
	}

	if opts.Addr != "" {
		rep, err := replayRemote(ctx, steps, opts.Addr)
		if err != nil {
			return err
		}
		result.Remote = rep
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := renderReplay(formatter, result); err != nil {
		return WrapExitError(ExitCommandError, "failed to render replay result", err)
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "replay differed from the recording")
	}
	return nil
}

// replayLocal re-executes the recorded frames on a fresh reference model
// and compares each outcome against the recording.
func replayLocal(runID string, steps []store.Step) (*ReplayResult, error) {
	result := &ReplayResult{RunID: runID, Steps: len(steps), Deterministic: true}
	mdl := model.New()

	for _, step := range steps {
		cmd, err := wire.DecodeCommand([3]byte{step.Opcode, step.Operand1, step.Operand2})
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "corrupt trace", err)
		}

		v, execErr := mdl.Execute(cmd)
		replayed := runner.FormatLocal(v, execErr)
		if replayed != step.Local {
			result.Deterministic = false
			result.Mismatch = &ReplayMismatch{
				Seq:      step.Seq,
				Command:  cmd.String(),
				Recorded: step.Local,
				Replayed: replayed,
			}
			break
		}
	}
	return result, nil
}

// replayRemote re-drives a remote with the recorded command sequence and
// re-applies the comparison policy against a fresh reference model.
func replayRemote(ctx context.Context, steps []store.Step, addr string) (*runner.Report, error) {
	exec, err := remote.Dial(addr)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect to remote", err)
	}
	defer exec.Close()

	mdl := model.New()
	rep := &runner.Report{Halt: runner.HaltLimit}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			rep.Halt = runner.HaltCancelled
			return rep, nil
		}

		cmd, err := wire.DecodeCommand([3]byte{step.Opcode, step.Operand1, step.Operand2})
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "corrupt trace", err)
		}
		rep.Trace = append(rep.Trace, cmd.String())

		localValue, localErr := mdl.Execute(cmd)
		local := runner.FormatLocal(localValue, localErr)

		resp, transportErr := exec.Execute(cmd)
		if transportErr != nil {
			rep.Halt = runner.HaltTransport
			rep.Command = cmd.String()
			rep.Local = local
			rep.Remote = transportErr.Error()
			rep.Processed = len(rep.Trace) - 1
			return rep, nil
		}

		if localErr != nil || !resp.OK() || localValue != resp.Value {
			rep.Halt = runner.HaltDivergence
			rep.Command = cmd.String()
			rep.Local = local
			rep.Remote = resp.String()
			rep.Processed = len(rep.Trace) - 1
			return rep, nil
		}
	}

	rep.Processed = len(rep.Trace)
	return rep, nil
}

func renderReplay(f *OutputFormatter, result *ReplayResult) error {
	if f.Format == "json" {
		return f.JSON(result)
	}

	f.Textf("run:           %s", result.RunID)
	f.Textf("steps:         %d", result.Steps)
	f.Textf("deterministic: %t", result.Deterministic)
	if result.Mismatch != nil {
		m := result.Mismatch
		f.Textf("mismatch:      seq=%d command=%s recorded=%s replayed=%s",
			m.Seq, m.Command, m.Recorded, m.Replayed)
	}
	if result.Remote != nil {
		f.Textf("")
		f.Textf("remote re-run:")
		f.Textf("  halt:      %s", result.Remote.Halt)
		f.Textf("  processed: %d", result.Remote.Processed)
		if result.Remote.Command != "" {
			f.Textf("  command:   %s", result.Remote.Command)
			f.Textf("  local:     %s", result.Remote.Local)
			f.Textf("  remote:    %s", result.Remote.Remote)
		}
	}
	return nil
}
