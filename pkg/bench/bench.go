package bench

import (
	"context"
	"fmt"
	"time"
)

// SQLRunner executes one SQL statement and reports how long it took.
type SQLRunner interface {
	Exec(ctx context.Context, sql string) (time.Duration, error)
}

// Logger is the subset of the progress logger the benchmark needs.
type Logger interface {
	Print(format string, args ...any)
	Success(format string, args ...any)
	Warn(format string, args ...any)
}

// Result holds the CPU and GPU timings for one query.
type Result struct {
	Query string
	CPU   time.Duration
	GPU   time.Duration
}

// Speedup returns the CPU/GPU time ratio; 0 when GPU time is unknown.
func (r Result) Speedup() float64 {
	if r.GPU <= 0 {
		return 0
	}
	return float64(r.CPU) / float64(r.GPU)
}

// Config holds benchmark settings.
type Config struct {
	Runs int // timed runs per query and mode, best run wins
}

// Bench drives the workload through an SQLRunner.
type Bench struct {
	cfg Config
	sql SQLRunner
	log Logger
}

// New creates a benchmark runner.
func New(cfg Config, sql SQLRunner, log Logger) *Bench {
	if cfg.Runs < 1 {
		cfg.Runs = 1
	}
	return &Bench{cfg: cfg, sql: sql, log: log}
}

// Run executes setup once, then times every query with pg_strom off and on.
func (b *Bench) Run(ctx context.Context, w *Workload) ([]Result, error) {
	for _, stmt := range w.Setup {
		b.log.Print("setup: %.60s...", stmt)
		if _, err := b.sql.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("setup statement: %w", err)
		}
	}

	results := make([]Result, 0, len(w.Queries))
	for _, q := range w.Queries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("benchmark interrupted: %w", err)
		}

		cpu, err := b.timeQuery(ctx, q.SQL, false)
		if err != nil {
			return nil, fmt.Errorf("query %q (cpu): %w", q.Name, err)
		}
		gpu, err := b.timeQuery(ctx, q.SQL, true)
		if err != nil {
			return nil, fmt.Errorf("query %q (gpu): %w", q.Name, err)
		}

		r := Result{Query: q.Name, CPU: cpu, GPU: gpu}
		b.log.Success("%-28s cpu %8.1fms  gpu %8.1fms  %.2fx",
			q.Name, ms(cpu), ms(gpu), r.Speedup())
		results = append(results, r)
	}
	return results, nil
}

// timeQuery runs the query cfg.Runs times in the given mode, returning the
// best timing. The pg_strom toggle rides in the same session as the query.
func (b *Bench) timeQuery(ctx context.Context, sql string, gpu bool) (time.Duration, error) {
	mode := "off"
	if gpu {
		mode = "on"
	}
	stmt := fmt.Sprintf("SET pg_strom.enabled = %s; %s", mode, sql)

	var best time.Duration
	for i := 0; i < b.cfg.Runs; i++ {
		elapsed, err := b.sql.Exec(ctx, stmt)
		if err != nil {
			return 0, err
		}
		if best == 0 || elapsed < best {
			best = elapsed
		}
	}
	return best, nil
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
