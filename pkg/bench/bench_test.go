package bench

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strom-lab/stromup/pkg/sysinfo"
)

// fakeSQL records executed statements and returns scripted durations.
type fakeSQL struct {
	stmts     []string
	durations []time.Duration
	err       error
}

func (f *fakeSQL) Exec(_ context.Context, sql string) (time.Duration, error) {
	f.stmts = append(f.stmts, sql)
	if f.err != nil {
		return 0, f.err
	}
	if len(f.durations) == 0 {
		return 10 * time.Millisecond, nil
	}
	d := f.durations[0]
	if len(f.durations) > 1 {
		f.durations = f.durations[1:]
	}
	return d, nil
}

func envFixture() sysinfo.Env {
	return sysinfo.Env{
		OS:     "ubuntu",
		Pretty: "Ubuntu 22.04.3 LTS",
		Arch:   "amd64",
		GPUs: []sysinfo.GPU{
			{Index: 0, Name: "NVIDIA T4", MemoryMiB: 15360, Driver: "535.104.05", ComputeCap: "7.5"},
		},
	}
}

type nopLogger struct{}

func (nopLogger) Print(string, ...any)   {}
func (nopLogger) Success(string, ...any) {}
func (nopLogger) Warn(string, ...any)    {}

func TestDefaultWorkload(t *testing.T) {
	w := DefaultWorkload(50000)

	require.NotEmpty(t, w.Setup)
	assert.Contains(t, w.Setup[1], "generate_series(1, 50000)")
	require.Len(t, w.Queries, 4)
	for _, q := range w.Queries {
		assert.NotEmpty(t, q.Name)
		assert.NotEmpty(t, q.SQL)
	}

	// zero scale falls back to the default row count
	assert.Contains(t, DefaultWorkload(0).Setup[1], "generate_series(1, 1000000)")
}

func TestLoadWorkload_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workload.yml")
	content := `setup:
  - "CREATE TABLE t AS SELECT 1 AS x"
queries:
  - name: count
    sql: "SELECT count(*) FROM t"
  - name: sum
    sql: "SELECT sum(x) FROM t"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	w, err := LoadWorkload(path, 0)
	require.NoError(t, err)
	require.Len(t, w.Queries, 2)
	assert.Equal(t, "count", w.Queries[0].Name)
	assert.Equal(t, "SELECT sum(x) FROM t", w.Queries[1].SQL)
}

func TestLoadWorkload_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadWorkload(filepath.Join(t.TempDir(), "nope.yml"), 0)
		assert.Error(t, err)
	})

	t.Run("no queries", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.yml")
		require.NoError(t, os.WriteFile(path, []byte("setup: []\n"), 0o644))
		_, err := LoadWorkload(path, 0)
		assert.Error(t, err)
	})

	t.Run("empty path uses builtin", func(t *testing.T) {
		w, err := LoadWorkload("", 100)
		require.NoError(t, err)
		assert.NotEmpty(t, w.Queries)
	})
}

func TestBench_Run(t *testing.T) {
	sql := &fakeSQL{}
	b := New(Config{Runs: 1}, sql, nopLogger{})

	w := &Workload{
		Setup:   []string{"CREATE TABLE t AS SELECT 1"},
		Queries: []Query{{Name: "count", SQL: "SELECT count(*) FROM t"}},
	}

	results, err := b.Run(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "count", results[0].Query)

	// setup once, then cpu and gpu mode per query
	require.Len(t, sql.stmts, 3)
	assert.Equal(t, "CREATE TABLE t AS SELECT 1", sql.stmts[0])
	assert.Equal(t, "SET pg_strom.enabled = off; SELECT count(*) FROM t", sql.stmts[1])
	assert.Equal(t, "SET pg_strom.enabled = on; SELECT count(*) FROM t", sql.stmts[2])
}

func TestBench_BestOfRuns(t *testing.T) {
	sql := &fakeSQL{durations: []time.Duration{
		30 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond, // cpu runs
		9 * time.Millisecond, 5 * time.Millisecond, 7 * time.Millisecond, // gpu runs
	}}
	b := New(Config{Runs: 3}, sql, nopLogger{})

	w := &Workload{Queries: []Query{{Name: "q", SQL: "SELECT 1"}}}
	results, err := b.Run(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, 20*time.Millisecond, results[0].CPU)
	assert.Equal(t, 5*time.Millisecond, results[0].GPU)
	assert.InDelta(t, 4.0, results[0].Speedup(), 0.001)
}

func TestBench_SetupFailureStopsRun(t *testing.T) {
	sql := &fakeSQL{err: fmt.Errorf("relation does not exist")}
	b := New(Config{Runs: 1}, sql, nopLogger{})

	w := &Workload{Setup: []string{"BROKEN"}, Queries: []Query{{Name: "q", SQL: "SELECT 1"}}}
	_, err := b.Run(context.Background(), w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup statement")
}

func TestResult_Speedup(t *testing.T) {
	assert.InDelta(t, 2.0, Result{CPU: 2 * time.Second, GPU: time.Second}.Speedup(), 0.001)
	assert.Zero(t, Result{CPU: time.Second}.Speedup()) // unknown gpu time
}

func TestBench_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := New(Config{Runs: 1}, &fakeSQL{}, nopLogger{})
	w := &Workload{Queries: []Query{{Name: "q", SQL: "SELECT 1"}}}

	_, err := b.Run(ctx, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
}

func TestMarkdownReport(t *testing.T) {
	results := []Result{
		{Query: "full scan filter", CPU: 100 * time.Millisecond, GPU: 25 * time.Millisecond},
		{Query: "self join", CPU: 400 * time.Millisecond, GPU: 50 * time.Millisecond},
	}

	md := MarkdownReport(results, envFixture())

	assert.Contains(t, md, "# PG-Strom benchmark")
	assert.Contains(t, md, "Ubuntu 22.04.3 LTS")
	assert.Contains(t, md, "NVIDIA T4")
	assert.Contains(t, md, "| full scan filter | 100.0 | 25.0 | 4.00x |")
	assert.Contains(t, md, "| **total** | 500.0 | 75.0 | 6.67x |")
}

func TestRenderTerminal_NoColor(t *testing.T) {
	md := "# hi\n"
	out, err := RenderTerminal(md, true)
	require.NoError(t, err)
	assert.Equal(t, md, out)
}

func TestWriteHTMLReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchmark.html")
	results := []Result{{Query: "aggregate by category", CPU: 80 * time.Millisecond, GPU: 10 * time.Millisecond}}

	require.NoError(t, WriteHTMLReport(path, results, envFixture()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(data)
	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, "aggregate by category")
	assert.Contains(t, html, "8.00x")
	assert.Contains(t, html, "NVIDIA T4")
}
