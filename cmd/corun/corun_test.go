package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stealthrocket/corun"
	"github.com/stealthrocket/corun/checkpoint"
	"github.com/stealthrocket/corun/internal/programs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCheckpointAndResume(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	params := programs.Params{Steps: 5, Depth: 3}
	record := checkpoint.NewRecord("nested", params.Map())

	s := &session{record: record, store: store, maxCycles: 2, logger: zerolog.Nop()}
	res, err := s.drive(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.suspended)
	assert.Equal(t, 2, res.record.Cycle)
	assert.Equal(t, []int{3, 3}, res.output.Values)

	saved, err := store.Load(record.ID)
	require.NoError(t, err)
	assert.Equal(t, "nested", saved.Program)
	assert.Equal(t, 2, saved.Cycle)

	var cont corun.Continuation
	_, err = cont.Unmarshal(saved.State)
	require.NoError(t, err)
	assert.Equal(t, 3, cont.Depth())

	s = &session{record: saved, store: store, logger: zerolog.Nop()}
	res, err = s.drive(context.Background(), &cont)
	require.NoError(t, err)
	assert.False(t, res.suspended)
	assert.True(t, res.output.Done)
	assert.Equal(t, 6, res.output.Result)
	assert.Equal(t, []int{3, 3, 3}, res.output.Values)

	// The checkpoint of a completed run is removed.
	_, err = store.Load(record.ID)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestSessionWithoutStore(t *testing.T) {
	s := &session{
		record: checkpoint.NewRecord("fib", programs.Params{Steps: 4}.Map()),
		logger: zerolog.Nop(),
	}
	res, err := s.drive(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1, 2}, res.output.Values)
	assert.Equal(t, 3, res.output.Result)
}

func TestSessionUnknownProgram(t *testing.T) {
	s := &session{record: checkpoint.NewRecord("missing", nil), logger: zerolog.Nop()}
	_, err := s.drive(context.Background(), nil)
	assert.ErrorIs(t, err, programs.ErrUnknownProgram)
}

const batchTOML = `
parallel = 2

[[job]]
name = "count"
program = "counter"
steps = 3

[[job]]
program = "nested"
depth = 4
steps = 1

[[job]]
program = "fib"
steps = 6
max_cycles = 2
`

func TestParseBatchConfig(t *testing.T) {
	cfg, err := parseBatchConfig(strings.NewReader(batchTOML))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Parallel)
	require.Len(t, cfg.Jobs, 3)
	assert.Equal(t, jobConfig{Name: "count", Program: "counter", Params: programs.Params{Steps: 3}}, cfg.Jobs[0])
	assert.Equal(t, jobConfig{Name: "nested-1", Program: "nested", Params: programs.Params{Depth: 4, Steps: 1}}, cfg.Jobs[1])
	assert.Equal(t, 2, cfg.Jobs[2].MaxCycles)
}

func TestParseBatchConfigErrors(t *testing.T) {
	tests := map[string]string{
		"no jobs":         `parallel = 1`,
		"unknown program": "[[job]]\nprogram = \"nope\"",
		"unknown key":     "[[job]]\nprogram = \"fib\"\nspeed = 3",
		"duplicate name":  "[[job]]\nname = \"a\"\nprogram = \"fib\"\n[[job]]\nname = \"a\"\nprogram = \"counter\"",
		"invalid toml":    "[[job]",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseBatchConfig(strings.NewReader(input))
			assert.Error(t, err)
		})
	}
}

func TestRunBatch(t *testing.T) {
	cfg, err := parseBatchConfig(strings.NewReader(batchTOML))
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore()
	results, err := runBatch(context.Background(), cfg, store)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 3, results[0].output.Result)
	assert.Equal(t, 10, results[1].output.Result)
	assert.True(t, results[2].suspended)

	// Only the interrupted job keeps a checkpoint.
	ids, err := store.List()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, results[2].record.ID, ids[0])

	var out bytes.Buffer
	for i, res := range results {
		report(&out, cfg.Jobs[i].Name, res)
	}
	assert.Contains(t, out.String(), "corun resume "+results[2].record.ID.String())
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunResumeList(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "run", "counter", "--steps", "3", "--max-cycles", "1", "--checkpoint-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "counter: suspended after cycle 1")

	store, err := openStore(dir)
	require.NoError(t, err)
	ids, err := store.List()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	id := ids[0].String()
	assert.Contains(t, out, "corun resume "+id)

	out, err = execute(t, "list", "--checkpoint-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "counter")

	out, err = execute(t, "resume", id, "--max-cycles", "0", "--checkpoint-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "counter: completed with result 3")
	assert.Contains(t, out, "values: [1 2]")

	out, err = execute(t, "list", "--checkpoint-dir", dir)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = execute(t, "resume", id, "--checkpoint-dir", dir)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()

	tests := map[string]struct {
		args []string
		want string
	}{
		"invalid run id":     {[]string{"resume", "not-a-uuid", "--checkpoint-dir", dir}, "invalid run ID"},
		"resume without dir": {[]string{"resume", uuid.NewString(), "--checkpoint-dir="}, "resume requires --checkpoint-dir"},
		"list without dir":   {[]string{"list", "--checkpoint-dir="}, "list requires --checkpoint-dir"},
		"max cycles no dir":  {[]string{"run", "fib", "--max-cycles", "1", "--checkpoint-dir="}, "--max-cycles requires --checkpoint-dir"},
		"unknown program":    {[]string{"run", "nope", "--max-cycles", "0", "--checkpoint-dir="}, "unknown program"},
		"missing batch file": {[]string{"batch", filepath.Join(dir, "missing.toml")}, "missing.toml"},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := execute(t, test.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.want)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "corun version "+version+"\n", out.String())
}
