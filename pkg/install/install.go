// Package install binds the external provisioning tooling (package managers,
// source fetch, build system, service control) to the stage executor. Each
// action is a black-box unit of work that succeeds or fails with an exit
// status; diagnostics stream to the shared progress log as they happen.
package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-pkgz/repeater"

	"github.com/strom-lab/stromup/pkg/bench"
	"github.com/strom-lab/stromup/pkg/cmdrun"
	"github.com/strom-lab/stromup/pkg/config"
	"github.com/strom-lab/stromup/pkg/stage"
	"github.com/strom-lab/stromup/pkg/sysinfo"
)

// Logger is the subset of the progress logger actions need.
type Logger interface {
	Print(format string, args ...any)
	Success(format string, args ...any)
	Warn(format string, args ...any)
}

// Actions holds the dependencies shared by all stage actions.
type Actions struct {
	cfg *config.Config
	run cmdrun.Runner
	log Logger

	osReleasePath string // overridable for tests
}

// New creates the action set.
func New(cfg *config.Config, runner cmdrun.Runner, log Logger) *Actions {
	return &Actions{cfg: cfg, run: runner, log: log, osReleasePath: "/etc/os-release"}
}

// Registry returns the fixed, linear stage sequence.
func (a *Actions) Registry() stage.Registry {
	return stage.Registry{
		{Ordinal: 1, Name: "detect platform", Action: a.DetectPlatform},
		{Ordinal: 2, Name: "check gpu", Action: a.CheckGPU},
		{Ordinal: 3, Name: "install cuda toolkit", Action: a.InstallCUDA},
		{Ordinal: 4, Name: "install postgresql", Action: a.InstallPostgres},
		{Ordinal: 5, Name: "build extension", Action: a.BuildExtension},
		{Ordinal: 6, Name: "configure database", Action: a.ConfigureDatabase},
		{Ordinal: 7, Name: "start service", Action: a.StartService},
		{Ordinal: 8, Name: "verify extension", Action: a.VerifyExtension},
		{Ordinal: 9, Name: "run benchmarks", Action: a.RunBenchmarks},
	}
}

// DetectPlatform identifies the OS and package manager. Unsupported
// platforms fail immediately, this is not retried.
func (a *Actions) DetectPlatform(_ context.Context, _ sysinfo.Env) (sysinfo.Env, error) {
	env, err := sysinfo.DetectOS(a.osReleasePath)
	if err != nil {
		return sysinfo.Env{}, fmt.Errorf("detect os: %w", err)
	}
	if !env.Supported() {
		return sysinfo.Env{}, fmt.Errorf("unsupported os %q, no known package manager", env.OS)
	}
	a.log.Print("platform: %s (%s), package manager %s", env.Pretty, env.Arch, env.PkgTool)
	return env, nil
}

// CheckGPU verifies the NVIDIA driver is present and records the device
// inventory in the environment context.
func (a *Actions) CheckGPU(ctx context.Context, env sysinfo.Env) (sysinfo.Env, error) {
	if !sysinfo.HaveNvidiaSMI() {
		return env, fmt.Errorf("nvidia-smi not found, install the NVIDIA driver first")
	}
	gpus, err := sysinfo.DetectGPUs(ctx, a.run)
	if err != nil {
		return env, err
	}
	if len(gpus) == 0 {
		return env, fmt.Errorf("no NVIDIA GPU detected")
	}
	for _, g := range gpus {
		a.log.Print("gpu %d: %s, %d MiB, driver %s, compute %s",
			g.Index, g.Name, g.MemoryMiB, g.Driver, g.ComputeCap)
	}
	env.GPUs = gpus
	return env, nil
}

// InstallCUDA installs the CUDA toolkit packages through the platform
// package manager. Mirror hiccups are retried here, not by the executor.
func (a *Actions) InstallCUDA(ctx context.Context, env sysinfo.Env) (sysinfo.Env, error) {
	env, err := a.ensureEnv(env)
	if err != nil {
		return env, err
	}
	if err := a.pkgInstall(ctx, env, a.cfg.CudaPackages...); err != nil {
		return env, fmt.Errorf("install cuda toolkit: %w", err)
	}
	return env, nil
}

// InstallPostgres installs the database engine and the headers needed to
// build the extension against it.
func (a *Actions) InstallPostgres(ctx context.Context, env sysinfo.Env) (sysinfo.Env, error) {
	env, err := a.ensureEnv(env)
	if err != nil {
		return env, err
	}
	if err := a.pkgInstall(ctx, env, a.postgresPackages(env)...); err != nil {
		return env, fmt.Errorf("install postgresql: %w", err)
	}
	return env, nil
}

// BuildExtension fetches the extension source and runs its native build.
func (a *Actions) BuildExtension(ctx context.Context, env sysinfo.Env) (sysinfo.Env, error) {
	srcDir := filepath.Join(a.cfg.WorkDir, "pg-strom")

	if _, err := os.Stat(srcDir); err == nil {
		a.log.Print("source already fetched at %s, pulling latest", srcDir)
		if err := a.withRetry(ctx, func() error {
			return a.run.Run(ctx, "git", "-C", srcDir, "pull", "--ff-only")
		}); err != nil {
			return env, fmt.Errorf("update source: %w", err)
		}
	} else {
		if err := os.MkdirAll(a.cfg.WorkDir, 0o750); err != nil {
			return env, fmt.Errorf("create work dir: %w", err)
		}
		if err := a.withRetry(ctx, func() error {
			return a.run.Run(ctx, "git", "clone", "--depth", "1",
				"--branch", a.cfg.ExtensionBranch, a.cfg.ExtensionRepo, srcDir)
		}); err != nil {
			return env, fmt.Errorf("fetch source: %w", err)
		}
	}

	// build failures are deterministic, no retry
	if err := a.run.Run(ctx, "make", "-C", srcDir); err != nil {
		return env, fmt.Errorf("build extension: %w", err)
	}
	if err := a.run.Run(ctx, "sudo", "make", "-C", srcDir, "install"); err != nil {
		return env, fmt.Errorf("install extension: %w", err)
	}
	return env, nil
}

// ConfigureDatabase ensures the extension is preloaded and GPU workers are
// enabled in postgresql.conf. Settings already present are left untouched.
func (a *Actions) ConfigureDatabase(_ context.Context, env sysinfo.Env) (sysinfo.Env, error) {
	env, err := a.ensureEnv(env)
	if err != nil {
		return env, err
	}

	confPath := a.postgresConfPath(env)
	settings := map[string]string{
		"shared_preload_libraries": "'$libdir/pg_strom'",
		"max_worker_processes":     "100",
		"shared_buffers":           "'4GB'",
		"work_mem":                 "'1GB'",
	}

	if err := ensureConfSettings(confPath, settings); err != nil {
		return env, fmt.Errorf("configure database: %w", err)
	}
	a.log.Print("updated %s", confPath)
	return env, nil
}

// StartService restarts postgresql and waits until it accepts connections.
func (a *Actions) StartService(ctx context.Context, env sysinfo.Env) (sysinfo.Env, error) {
	env, err := a.ensureEnv(env)
	if err != nil {
		return env, err
	}

	if err := a.run.Run(ctx, "sudo", "systemctl", "restart", a.serviceName(env)); err != nil {
		return env, fmt.Errorf("restart service: %w", err)
	}

	// readiness poll, the server takes a moment to come up after restart
	if err := a.withRetry(ctx, func() error {
		return a.run.Run(ctx, "pg_isready", "-p", strconv.Itoa(a.cfg.PGPort))
	}); err != nil {
		return env, fmt.Errorf("service not ready: %w", err)
	}
	return env, nil
}

// VerifyExtension creates the extension in the benchmark database and checks
// it is actually loaded.
func (a *Actions) VerifyExtension(ctx context.Context, env sysinfo.Env) (sysinfo.Env, error) {
	if err := a.psql(ctx, "postgres",
		fmt.Sprintf("CREATE DATABASE %s", a.cfg.DBName)); err != nil {
		// database may exist from a prior run
		a.log.Warn("create database: %v (continuing, may already exist)", err)
	}

	if err := a.psql(ctx, a.cfg.DBName, "CREATE EXTENSION IF NOT EXISTS pg_strom"); err != nil {
		return env, fmt.Errorf("create extension: %w", err)
	}

	out, err := a.run.Output(ctx, "psql", a.psqlArgs(a.cfg.DBName,
		"SELECT count(*) FROM pg_extension WHERE extname = 'pg_strom'")...)
	if err != nil {
		return env, fmt.Errorf("verify extension: %w", err)
	}
	if strings.TrimSpace(out) != "1" {
		return env, fmt.Errorf("pg_strom extension not present after install")
	}
	a.log.Success("pg_strom extension verified")
	return env, nil
}

// RunBenchmarks runs the comparative CPU vs GPU workload and writes reports.
func (a *Actions) RunBenchmarks(ctx context.Context, env sysinfo.Env) (sysinfo.Env, error) {
	env, err := a.ensureEnv(env)
	if err != nil {
		return env, err
	}
	if len(env.GPUs) == 0 && sysinfo.HaveNvidiaSMI() {
		// resumed past the gpu check, re-detect so the report stays complete
		if gpus, gpuErr := sysinfo.DetectGPUs(ctx, a.run); gpuErr == nil {
			env.GPUs = gpus
		}
	}

	workload, err := bench.LoadWorkload(a.cfg.BenchWorkload, a.cfg.BenchScale)
	if err != nil {
		return env, fmt.Errorf("load workload: %w", err)
	}

	b := bench.New(bench.Config{Runs: a.cfg.BenchRuns}, a.sqlRunner(), a.log)
	results, err := b.Run(ctx, workload)
	if err != nil {
		return env, fmt.Errorf("run benchmarks: %w", err)
	}

	md := bench.MarkdownReport(results, env)
	mdPath := filepath.Join(a.cfg.ReportDir, "benchmark.md")
	if err := os.WriteFile(mdPath, []byte(md), 0o644); err != nil { //nolint:gosec // operator-readable report
		return env, fmt.Errorf("write markdown report: %w", err)
	}
	htmlPath := filepath.Join(a.cfg.ReportDir, "benchmark.html")
	if err := bench.WriteHTMLReport(htmlPath, results, env); err != nil {
		return env, fmt.Errorf("write html report: %w", err)
	}

	a.log.Success("benchmark reports: %s, %s", mdPath, htmlPath)
	return env, nil
}

// ensureEnv reconstructs an empty environment context. Resume skips the
// detection stages, so env-consuming actions re-run the cheap read-only
// platform probe instead of acting on a zero context. Already-populated
// contexts are passed through untouched.
func (a *Actions) ensureEnv(env sysinfo.Env) (sysinfo.Env, error) {
	if env.OS != "" {
		return env, nil
	}
	detected, err := sysinfo.DetectOS(a.osReleasePath)
	if err != nil {
		return env, fmt.Errorf("redetect platform: %w", err)
	}
	if !detected.Supported() {
		return env, fmt.Errorf("unsupported os %q, no known package manager", detected.OS)
	}
	detected.GPUs = env.GPUs
	return detected, nil
}

// pkgInstall installs packages through the platform package manager with
// bounded retries for transient mirror failures.
func (a *Actions) pkgInstall(ctx context.Context, env sysinfo.Env, packages ...string) error {
	if len(packages) == 0 {
		return fmt.Errorf("no packages specified")
	}

	if env.PkgTool == "apt-get" {
		if err := a.withRetry(ctx, func() error {
			return a.run.Run(ctx, "sudo", "apt-get", "update", "-qq")
		}); err != nil {
			return fmt.Errorf("refresh package index: %w", err)
		}
	}

	args := append([]string{env.PkgTool, "install", "-y"}, packages...)
	return a.withRetry(ctx, func() error {
		return a.run.Run(ctx, "sudo", args...)
	})
}

// withRetry runs fn with the configured bounded retry policy.
func (a *Actions) withRetry(ctx context.Context, fn func() error) error {
	attempts := a.cfg.FetchRetries
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Duration(a.cfg.RetryDelayMs) * time.Millisecond
	return repeater.NewDefault(attempts, delay).Do(ctx, fn)
}

// postgresPackages returns the engine and dev packages per package manager.
func (a *Actions) postgresPackages(env sysinfo.Env) []string {
	v := a.cfg.PGVersion
	if env.PkgTool == "apt-get" {
		return []string{"postgresql-" + v, "postgresql-server-dev-" + v}
	}
	return []string{"postgresql" + v + "-server", "postgresql" + v + "-devel"}
}

// postgresConfPath returns the postgresql.conf location per distro layout.
func (a *Actions) postgresConfPath(env sysinfo.Env) string {
	if env.PkgTool == "apt-get" {
		return filepath.Join("/etc/postgresql", a.cfg.PGVersion, "main", "postgresql.conf")
	}
	return "/var/lib/pgsql/" + a.cfg.PGVersion + "/data/postgresql.conf"
}

// serviceName returns the systemd unit per distro layout.
func (a *Actions) serviceName(env sysinfo.Env) string {
	if env.PkgTool == "apt-get" {
		return "postgresql"
	}
	return "postgresql-" + a.cfg.PGVersion
}

func (a *Actions) psqlArgs(db, query string) []string {
	return []string{"-X", "-q", "-tA",
		"-U", a.cfg.DBUser, "-p", strconv.Itoa(a.cfg.PGPort), "-d", db, "-c", query}
}

func (a *Actions) psql(ctx context.Context, db, query string) error {
	return a.run.Run(ctx, "psql", a.psqlArgs(db, query)...)
}

// sqlRunner adapts cmdrun to the benchmark's SQL execution interface.
func (a *Actions) sqlRunner() bench.SQLRunner {
	return &psqlRunner{actions: a}
}

// psqlRunner executes SQL through psql, timing the whole round trip.
type psqlRunner struct {
	actions *Actions
}

func (p *psqlRunner) Exec(ctx context.Context, sql string) (time.Duration, error) {
	started := time.Now()
	_, err := p.actions.run.Output(ctx, "psql", p.actions.psqlArgs(p.actions.cfg.DBName, sql)...)
	if err != nil {
		return 0, err
	}
	return time.Since(started), nil
}

// ensureConfSettings appends missing key = value lines to a postgresql.conf.
// Keys already set (even commented differently) are left alone, the operator
// owns the file.
func ensureConfSettings(path string, settings map[string]string) error {
	data, err := os.ReadFile(path) //nolint:gosec // distro config path
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	present := map[string]bool{}
	for line := range strings.SplitSeq(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if key, _, found := strings.Cut(trimmed, "="); found {
			present[strings.TrimSpace(key)] = true
		}
	}

	var missing []string
	for key, val := range settings {
		if !present[key] {
			missing = append(missing, fmt.Sprintf("%s = %s", key, val))
		}
	}
	sort.Strings(missing)
	if len(missing) == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // distro config path
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	block := "\n# added by stromup\n" + strings.Join(missing, "\n") + "\n"
	if _, err := f.WriteString(block); err != nil {
		f.Close()
		return fmt.Errorf("append settings: %w", err)
	}
	return f.Close()
}
