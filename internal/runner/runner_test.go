package runner

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytefold/memdiff/internal/command"
	"github.com/bytefold/memdiff/internal/model"
	"github.com/bytefold/memdiff/internal/testutil"
	"github.com/bytefold/memdiff/internal/wire"
)

// sequenceSource replays a fixed command sequence, cycling when exhausted.
type sequenceSource struct {
	cmds []command.Command
	next int
}

func (s *sequenceSource) Next() command.Command {
	cmd := s.cmds[s.next%len(s.cmds)]
	s.next++
	return cmd
}

func sourceOf(cmds ...command.Command) *sequenceSource {
	return &sequenceSource{cmds: cmds}
}

func newGenerator(t *testing.T, seed int64) *command.Generator {
	t.Helper()
	gen, err := command.NewGenerator(seed, command.IndexValidOnly)
	require.NoError(t, err)
	return gen
}

func TestRunner_MatchingRunReachesLimit(t *testing.T) {
	src := sourceOf(command.Write(0, 9), command.Read(0), command.Sum())
	r := New(src, testutil.NewMemoryRemote(), WithMaxCommands(500))

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HaltLimit, rep.Halt)
	assert.Equal(t, 500, rep.Processed)
	assert.Len(t, rep.Trace, 500)
	assert.Empty(t, rep.Command)
}

func TestRunner_OffByOneRemoteDivergesImmediately(t *testing.T) {
	// A remote that answers Success(local+1) must be caught on the very
	// first command, with zero commands counted as processed.
	mem := testutil.NewMemoryRemote()
	mem.Mutate = func(frame [2]byte) [2]byte {
		if frame[0] == wire.StatusSuccess {
			frame[1]++
		}
		return frame
	}

	r := New(sourceOf(command.Read(0)), mem)
	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, HaltDivergence, rep.Halt)
	assert.Equal(t, 0, rep.Processed)
	assert.Len(t, rep.Trace, 1)
	assert.Equal(t, "Read(0)", rep.Command)
	assert.Equal(t, "Ok(0)", rep.Local)
	assert.Equal(t, "Success(1)", rep.Remote)
}

func TestRunner_TransportFailureIsNotDivergence(t *testing.T) {
	r := New(sourceOf(command.Sum()), &testutil.FailingRemote{Err: io.ErrUnexpectedEOF})

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, HaltTransport, rep.Halt)
	assert.Equal(t, 0, rep.Processed)
	// The local outcome rides along for context.
	assert.Equal(t, "Ok(0)", rep.Local)
	assert.Contains(t, rep.Remote, io.ErrUnexpectedEOF.Error())
}

func TestRunner_PairedFailuresStillDiverge(t *testing.T) {
	// Local Overflow and remote Failure look similar but never match: the
	// wire carries no error identity, so any non-Success pairing halts.
	src := sourceOf(command.Write(0, 200), command.Write(1, 100), command.Sum())
	r := New(src, testutil.NewMemoryRemote())

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, HaltDivergence, rep.Halt)
	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, "Sum", rep.Command)
	assert.Equal(t, "Overflow", rep.Local)
	assert.Contains(t, rep.Remote, "Failure")
}

func TestRunner_DivergesMidRun(t *testing.T) {
	src := sourceOf(
		command.Write(2, 5),
		command.Read(2),
		command.Product(),
	)
	scripted := &testutil.ScriptedRemote{Responses: []wire.Response{
		{Value: 5}, // matches Write(2, 5)
		{Value: 5}, // matches Read(2)
		{Value: 9}, // model says Ok(0): three cells are still zero
	}}

	r := New(src, scripted)
	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, HaltDivergence, rep.Halt)
	assert.Equal(t, 2, rep.Processed)
	assert.Len(t, rep.Trace, 3)
	assert.Equal(t, "Product", rep.Command)
	assert.Equal(t, "Ok(0)", rep.Local)
	assert.Equal(t, "Success(9)", rep.Remote)
}

func TestRunner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(sourceOf(command.Sum()), testutil.NewMemoryRemote())
	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, HaltCancelled, rep.Halt)
	assert.Equal(t, 0, rep.Processed)
}

type collectingRecorder struct {
	steps []Step
	err   error
}

func (c *collectingRecorder) Record(_ context.Context, step Step) error {
	if c.err != nil {
		return c.err
	}
	c.steps = append(c.steps, step)
	return nil
}

func TestRunner_RecordsEveryStep(t *testing.T) {
	rec := &collectingRecorder{}
	src := sourceOf(command.Write(1, 3), command.Read(1))
	r := New(src, testutil.NewMemoryRemote(),
		WithMaxCommands(20), WithRecorder(rec))

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, HaltLimit, rep.Halt)

	require.Len(t, rec.steps, 20)
	for i, step := range rec.steps {
		assert.Equal(t, i+1, step.Seq)
		assert.True(t, step.Matched)
		assert.NotEmpty(t, step.Local)
		assert.NotEmpty(t, step.Remote)
	}
}

func TestRunner_RecordsHaltingStep(t *testing.T) {
	rec := &collectingRecorder{}
	r := New(sourceOf(command.Read(0)), &testutil.ScriptedRemote{
		Responses: []wire.Response{{Err: wire.ErrProtocol}},
	}, WithRecorder(rec))

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, HaltDivergence, rep.Halt)

	require.Len(t, rec.steps, 1)
	assert.False(t, rec.steps[0].Matched)
}

func TestRunner_RecorderErrorAborts(t *testing.T) {
	boom := errors.New("disk full")
	r := New(sourceOf(command.Sum()), testutil.NewMemoryRemote(),
		WithRecorder(&collectingRecorder{err: boom}))

	rep, err := r.Run(context.Background())
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, boom)
}

func TestRunner_TraceMatchesReport(t *testing.T) {
	src := sourceOf(command.Write(3, 1), command.Read(3), command.Product())
	r := New(src, testutil.NewMemoryRemote(), WithMaxCommands(10))
	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	trace := r.Trace()
	require.Len(t, trace, 10)
	for i, cmd := range trace {
		assert.Equal(t, cmd.String(), rep.Trace[i])
	}
}

func TestRunner_RandomRunAgainstFaithfulRemote(t *testing.T) {
	// A semantically identical remote never mismatches on values; the only
	// possible halt besides the budget is a local-error/remote-failure
	// pair, which the policy counts as a divergence.
	r := New(newGenerator(t, 42), testutil.NewMemoryRemote(), WithMaxCommands(10000))

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	switch rep.Halt {
	case HaltLimit:
		assert.Equal(t, 10000, rep.Processed)
	case HaltDivergence:
		assert.Contains(t, []string{"Overflow", "InvalidRead", "InvalidWrite"}, rep.Local)
		assert.Contains(t, rep.Remote, "Failure")
		assert.Equal(t, len(rep.Trace)-1, rep.Processed)
	default:
		t.Fatalf("unexpected halt kind %q", rep.Halt)
	}
}

func TestFormatLocal(t *testing.T) {
	assert.Equal(t, "Ok(200)", FormatLocal(200, nil))
	assert.Equal(t, "InvalidRead", FormatLocal(0, model.ErrInvalidRead))
	assert.Equal(t, "InvalidWrite", FormatLocal(0, model.ErrInvalidWrite))
	assert.Equal(t, "Overflow", FormatLocal(0, model.ErrOverflow))
}
