// Package runner orchestrates the differential loop: generate a command,
// execute it against the reference model and the remote under test, compare
// the outcomes, and halt on the first disagreement or transport failure.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/bytefold/memdiff/internal/command"
	"github.com/bytefold/memdiff/internal/model"
	"github.com/bytefold/memdiff/internal/wire"
)

// RemoteExecutor executes one command against the implementation under
// test. A non-nil error is a transport failure; decoded protocol failures
// come back inside the Response.
type RemoteExecutor interface {
	Execute(cmd command.Command) (wire.Response, error)
}

// Source yields the next command to test. Implemented by command.Generator
// (production) and by fixed sequences in tests.
type Source interface {
	Next() command.Command
}

// Step is one completed loop iteration, as handed to a Recorder.
type Step struct {
	Seq     int
	Command command.Command
	Local   string
	Remote  string
	Matched bool
}

// Recorder persists steps for post-mortem inspection. Optional; the runner
// works without one.
type Recorder interface {
	Record(ctx context.Context, step Step) error
}

// HaltKind classifies why a run stopped.
type HaltKind string

const (
	// HaltDivergence: local and remote outcomes disagreed.
	HaltDivergence HaltKind = "divergence"

	// HaltTransport: the connection failed; not a verdict on the remote's
	// semantics.
	HaltTransport HaltKind = "transport-failure"

	// HaltLimit: the configured command budget ran out with every command
	// matching.
	HaltLimit HaltKind = "limit-reached"

	// HaltCancelled: the surrounding context was cancelled between
	// iterations.
	HaltCancelled HaltKind = "cancelled"
)

// Report is the end-of-run verdict. Processed counts the commands that
// matched before the halting command; Command, Local and Remote describe
// the halting iteration when there is one.
type Report struct {
	Halt      HaltKind `json:"halt"`
	Processed int      `json:"processed"`
	Command   string   `json:"command,omitempty"`
	Local     string   `json:"local,omitempty"`
	Remote    string   `json:"remote,omitempty"`
	Trace     []string `json:"trace,omitempty"`
}

// Runner drives one differential run. Strictly sequential: one command at a
// time, local execution first, then the remote round trip, then the
// comparison. Not safe for concurrent use and never needs to be.
type Runner struct {
	model    *model.Model
	source   Source
	remote   RemoteExecutor
	recorder Recorder
	logger   *slog.Logger

	// maxCommands bounds the run; 0 means run until halted.
	maxCommands int

	trace []command.Command
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxCommands bounds the run to n commands. Zero means run until
// halted.
func WithMaxCommands(n int) Option {
	return func(r *Runner) { r.maxCommands = n }
}

// WithRecorder persists every step through rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// New creates a runner with a fresh zeroed reference model.
func New(source Source, remote RemoteExecutor, opts ...Option) *Runner {
	r := &Runner{
		model:  model.New(),
		source: source,
		remote: remote,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Trace returns the ordered sequence of every generated command. Append-only
// during the run; the returned slice must not be mutated.
func (r *Runner) Trace() []command.Command {
	return r.trace
}

// Run executes the differential loop until a halt. The returned error is
// non-nil only for recorder failures; divergences and transport failures
// are verdicts, reported through the Report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	for seq := 1; ; seq++ {
		if err := ctx.Err(); err != nil {
			r.logger.Info("run cancelled", "processed", len(r.trace))
			return r.report(HaltCancelled, nil, "", ""), nil
		}
		if r.maxCommands > 0 && len(r.trace) >= r.maxCommands {
			r.logger.Info("command budget exhausted", "processed", len(r.trace))
			return r.report(HaltLimit, nil, "", ""), nil
		}

		cmd := r.source.Next()
		r.trace = append(r.trace, cmd)
		r.logger.Debug("generated command", "seq", seq, "command", cmd.String())

		localValue, localErr := r.model.Execute(cmd)
		local := FormatLocal(localValue, localErr)

		resp, transportErr := r.remote.Execute(cmd)
		if transportErr != nil {
			r.logger.Error("communication failure",
				"seq", seq, "command", cmd.String(), "local", local, "error", transportErr)
			if err := r.record(ctx, seq, cmd, local, transportErr.Error(), false); err != nil {
				return nil, err
			}
			return r.report(HaltTransport, &cmd, local, transportErr.Error()), nil
		}

		matched := localErr == nil && resp.OK() && localValue == resp.Value
		if err := r.record(ctx, seq, cmd, local, resp.String(), matched); err != nil {
			return nil, err
		}
		if !matched {
			r.logger.Error("results diverged",
				"seq", seq, "command", cmd.String(), "local", local, "remote", resp.String())
			return r.report(HaltDivergence, &cmd, local, resp.String()), nil
		}
	}
}

func (r *Runner) record(ctx context.Context, seq int, cmd command.Command, local, remote string, matched bool) error {
	if r.recorder == nil {
		return nil
	}
	return r.recorder.Record(ctx, Step{
		Seq:     seq,
		Command: cmd,
		Local:   local,
		Remote:  remote,
		Matched: matched,
	})
}

func (r *Runner) report(halt HaltKind, cmd *command.Command, local, remote string) *Report {
	rep := &Report{
		Halt:   halt,
		Local:  local,
		Remote: remote,
		Trace:  make([]string, 0, len(r.trace)),
	}
	for _, c := range r.trace {
		rep.Trace = append(rep.Trace, c.String())
	}
	if cmd != nil {
		rep.Command = cmd.String()
		rep.Processed = len(r.trace) - 1
	} else {
		rep.Processed = len(r.trace)
	}
	return rep
}

// FormatLocal renders a reference-model outcome the way divergence reports
// show it.
func FormatLocal(v byte, err error) string {
	switch {
	case err == nil:
		return "Ok(" + strconv.Itoa(int(v)) + ")"
	case errors.Is(err, model.ErrInvalidRead):
		return "InvalidRead"
	case errors.Is(err, model.ErrInvalidWrite):
		return "InvalidWrite"
	case errors.Is(err, model.ErrOverflow):
		return "Overflow"
	default:
		return err.Error()
	}
}
