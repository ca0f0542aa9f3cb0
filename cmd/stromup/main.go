// Package main provides stromup - staged PG-Strom provisioning with
// checkpoint/resume and CPU vs GPU benchmarking.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"

	"github.com/strom-lab/stromup/pkg/bench"
	"github.com/strom-lab/stromup/pkg/checkpoint"
	"github.com/strom-lab/stromup/pkg/cmdrun"
	"github.com/strom-lab/stromup/pkg/config"
	"github.com/strom-lab/stromup/pkg/install"
	"github.com/strom-lab/stromup/pkg/notify"
	"github.com/strom-lab/stromup/pkg/progress"
	"github.com/strom-lab/stromup/pkg/runstate"
	"github.com/strom-lab/stromup/pkg/stage"
	"github.com/strom-lab/stromup/pkg/sysinfo"
)

// opts holds all command-line options.
type opts struct {
	Resume      bool   `long:"resume" description:"resume from the last checkpoint, skipping completed stages"`
	Status      bool   `long:"status" description:"show recorded stage transitions and exit"`
	Clean       bool   `long:"clean" description:"delete checkpoint and run-state log, then exit"`
	ListStages  bool   `long:"list-stages" description:"print the stage sequence and exit"`
	GPUSnapshot bool   `long:"gpu-snapshot" description:"print a one-shot GPU summary and exit"`
	Config      string `long:"config" description:"path to config file (overrides default locations)"`
	NoColor     bool   `long:"no-color" description:"disable color output"`
	Version     bool   `short:"v" long:"version" description:"print version and exit"`
}

var revision = "unknown"

func main() {
	var o opts
	parser := flags.NewParser(&o, flags.Default)
	parser.Usage = "[OPTIONS]"

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if o.Version {
		fmt.Printf("stromup %s\n", revision)
		os.Exit(0)
	}

	// setup context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var stErr *stage.Error
		if errors.As(err, &stErr) {
			os.Exit(stErr.Status) // propagate the failing stage's status code
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts) error {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if o.NoColor {
		color.NoColor = true
	}

	switch {
	case o.Clean:
		return runClean(cfg)
	case o.Status:
		return runStatus(cfg)
	case o.ListStages:
		return runListStages(cfg)
	case o.GPUSnapshot:
		return runGPUSnapshot(ctx)
	}

	return runInstall(ctx, cfg, o)
}

// runClean discards all recorded progress. Absent files are fine.
func runClean(cfg *config.Config) error {
	if err := checkpoint.NewStore(cfg.CheckpointPath()).Clear(); err != nil {
		return err
	}
	if err := runstate.New(cfg.RunStatePath()).Clear(); err != nil {
		return err
	}
	fmt.Println("checkpoint and run-state log removed")
	return nil
}

// runStatus renders the run-state log without touching the checkpoint.
func runStatus(cfg *config.Config) error {
	entries, err := runstate.New(cfg.RunStatePath()).ReadAll()
	if err != nil {
		return err
	}
	stage.RenderHistory(&consoleLogger{}, entries)

	cp, err := checkpoint.NewStore(cfg.CheckpointPath()).Load()
	if err != nil {
		return err
	}
	if cp != nil {
		fmt.Printf("\nresume point: stage %d (%s), completed %s\n",
			cp.Ordinal, cp.Name, cp.Stamp.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runListStages(cfg *config.Config) error {
	acts := install.New(cfg, &cmdrun.ExecRunner{}, &consoleLogger{})
	for _, st := range acts.Registry() {
		fmt.Printf("%2d  %s\n", st.Ordinal, st.Name)
	}
	return nil
}

func runGPUSnapshot(ctx context.Context) error {
	if !sysinfo.HaveNvidiaSMI() {
		return errors.New("nvidia-smi not found, install the NVIDIA driver first")
	}
	out, err := sysinfo.Snapshot(ctx, &cmdrun.ExecRunner{})
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// runInstall drives the executor across the full stage registry.
func runInstall(ctx context.Context, cfg *config.Config, o opts) error {
	mode := stage.ModeFresh
	if o.Resume {
		mode = stage.ModeResume
	}

	log, err := progress.NewLogger(progress.Config{
		Path:    cfg.InstallLogPath(),
		Mode:    string(mode),
		NoColor: o.NoColor,
	})
	if err != nil {
		return fmt.Errorf("create install log: %w", err)
	}
	defer log.Close()

	notifier, err := notify.New(notifyParams(cfg), log)
	if err != nil {
		return fmt.Errorf("setup notifications: %w", err)
	}

	runner := &cmdrun.ExecRunner{Sink: log.PrintAligned}
	acts := install.New(cfg, runner, log)

	check := checkpoint.NewStore(cfg.CheckpointPath())
	state := runstate.New(cfg.RunStatePath())
	exec := stage.NewExecutor(mode, check, state, log)

	log.Print("starting stromup %s (%s mode)", revision, mode)
	log.Print("install log: %s", log.Path())

	started := time.Now()
	if runErr := exec.Run(ctx, acts.Registry()); runErr != nil {
		result := notify.Result{Status: "failure", Mode: string(mode), Duration: time.Since(started).Round(time.Second).String(), Error: runErr.Error()}
		var stErr *stage.Error
		if errors.As(runErr, &stErr) {
			result.Stage = fmt.Sprintf("%d (%s)", stErr.Ordinal, stErr.Name)
		}
		notifier.Send(ctx, result)
		return runErr
	}

	printSummary(cfg, log, o.NoColor)
	notifier.Send(ctx, notify.Result{
		Status:   "success",
		Mode:     string(mode),
		Duration: time.Since(started).Round(time.Second).String(),
	})
	log.Success("completed in %s", log.Elapsed())
	return nil
}

// printSummary renders the completion summary from the run-state log and,
// when present, the benchmark report.
func printSummary(cfg *config.Config, log *progress.Logger, noColor bool) {
	entries, err := runstate.New(cfg.RunStatePath()).ReadAll()
	if err != nil {
		log.Warn("cannot read run-state log: %v", err)
	} else {
		stage.RenderHistory(log, entries)
	}

	mdPath := filepath.Join(cfg.ReportDir, "benchmark.md")
	md, err := os.ReadFile(mdPath) //nolint:gosec // report path from config
	if err != nil {
		return // no benchmark report, nothing more to show
	}
	rendered, err := bench.RenderTerminal(string(md), noColor)
	if err != nil {
		log.Warn("render benchmark report: %v", err)
		return
	}
	log.PrintRaw("%s", rendered)
}

func notifyParams(cfg *config.Config) notify.Params {
	return notify.Params{
		Channels:      cfg.NotifyChannels,
		OnError:       cfg.NotifyOnError,
		OnComplete:    cfg.NotifyOnComplete,
		TimeoutMs:     cfg.NotifyTimeoutMs,
		TelegramToken: cfg.NotifyTelegramToken,
		TelegramChat:  cfg.NotifyTelegramChat,
		SlackToken:    cfg.NotifySlackToken,
		SlackChannel:  cfg.NotifySlackChannel,
		SMTPHost:      cfg.NotifySMTPHost,
		SMTPPort:      cfg.NotifySMTPPort,
		SMTPUsername:  cfg.NotifySMTPUsername,
		SMTPPassword:  cfg.NotifySMTPPassword,
		SMTPStartTLS:  cfg.NotifySMTPStartTLS,
		EmailFrom:     cfg.NotifyEmailFrom,
		EmailTo:       cfg.NotifyEmailTo,
		WebhookURLs:   cfg.NotifyWebhookURLs,
		CustomScript:  cfg.NotifyCustomScript,
	}
}

// consoleLogger prints severity-colored lines to stdout only, used by the
// informational commands that must not create an install log file.
type consoleLogger struct{}

func (c *consoleLogger) Print(format string, args ...any) {
	color.New(color.FgCyan).Printf(format+"\n", args...)
}

func (c *consoleLogger) Success(format string, args ...any) {
	color.New(color.FgGreen).Printf(format+"\n", args...)
}

func (c *consoleLogger) Warn(format string, args ...any) {
	color.New(color.FgYellow).Printf("WARN: "+format+"\n", args...)
}

func (c *consoleLogger) Error(format string, args ...any) {
	color.New(color.FgRed).Printf("ERROR: "+format+"\n", args...)
}
