package cli

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytefold/memdiff/internal/store"
	"github.com/bytefold/memdiff/internal/testutil"
	"github.com/bytefold/memdiff/internal/wire"
)

// execute runs the CLI with args and returns combined output and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRun_CorrectRemoteReachesLimit(t *testing.T) {
	srv, err := testutil.NewCorrectServer()
	require.NoError(t, err)
	defer srv.Close()

	// Two commands from zeroed memory can never overflow, so any seed
	// reaches the limit against a faithful remote.
	out, err := execute(t, "run",
		"--addr", srv.Addr(), "--seed", "42", "--max-commands", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "halt:      limit-reached")
	assert.Contains(t, out, "processed: 2")
}

func TestRun_BuggyRemoteDiverges(t *testing.T) {
	mem := testutil.NewMemoryRemote()
	srv, err := testutil.NewServer(func(frame [wire.CommandFrameSize]byte) ([]byte, bool) {
		resp := mem.HandleFrame(frame)
		if resp[0] == wire.StatusSuccess {
			resp[1]++
		}
		return resp[:], true
	})
	require.NoError(t, err)
	defer srv.Close()

	out, err := execute(t, "run", "--addr", srv.Addr(), "--seed", "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "halt:      divergence")
	assert.Contains(t, out, "processed: 0")
}

func TestRun_RemoteClosesConnection(t *testing.T) {
	srv, err := testutil.NewServer(func([wire.CommandFrameSize]byte) ([]byte, bool) {
		return nil, false
	})
	require.NoError(t, err)
	defer srv.Close()

	out, err := execute(t, "run", "--addr", srv.Addr(), "--seed", "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "halt:      transport-failure")
}

func TestRun_UnreachableRemote(t *testing.T) {
	_, err := execute(t, "run", "--addr", "127.0.0.1:1", "--seed", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_JSONReport(t *testing.T) {
	srv, err := testutil.NewCorrectServer()
	require.NoError(t, err)
	defer srv.Close()

	out, err := execute(t, "run",
		"--addr", srv.Addr(), "--seed", "42", "--max-commands", "2", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"halt": "limit-reached"`)
	assert.Contains(t, out, `"processed": 2`)
	assert.Contains(t, out, `"trace"`)
}

func TestRun_PersistsTrace(t *testing.T) {
	srv, err := testutil.NewCorrectServer()
	require.NoError(t, err)
	defer srv.Close()

	dbPath := filepath.Join(t.TempDir(), "trace.db")
	_, err = execute(t, "run",
		"--addr", srv.Addr(), "--seed", "42", "--max-commands", "2", "--db", dbPath)
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), run.Seed)
	assert.Equal(t, "valid-only", run.Policy)
	assert.Equal(t, srv.Addr(), run.Endpoint)
	assert.Equal(t, "limit-reached", run.Halt)
	assert.Equal(t, 2, run.Processed)

	steps, err := st.ReadSteps(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	for _, step := range steps {
		assert.True(t, step.Matched)
	}
}

func TestRun_ConfigFileWithFlagOverride(t *testing.T) {
	srv, err := testutil.NewCorrectServer()
	require.NoError(t, err)
	defer srv.Close()

	dbPath := filepath.Join(t.TempDir(), "trace.db")
	cfgPath := writeConfig(t, fmt.Sprintf(`
addr: %q
seed: 5
max_commands: 2
database: %q
`, srv.Addr(), dbPath))

	// --seed overrides the file; addr/max/database come from the file.
	_, err = execute(t, "run", "--config", cfgPath, "--seed", "9")
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), run.Seed, "flag wins over config file")
	assert.Equal(t, 2, run.Processed, "max_commands from config file")
}

func TestRun_BadPolicyFlag(t *testing.T) {
	_, err := execute(t, "run", "--policy", "everything")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
