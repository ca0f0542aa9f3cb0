// Package config loads stromup configuration with a fallback chain:
// local file, then global file, then embedded defaults. Files are plain
// key=value ini without section headers.
package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

//go:embed defaults/config
var defaultsFS embed.FS

// Config holds all stromup settings.
type Config struct {
	StateDir string // checkpoint, run-state log and install log live here
	WorkDir  string // extension source checkout and build tree

	PGVersion string // postgresql major version to install
	PGPort    int
	DBName    string // benchmark database
	DBUser    string

	CudaPackages    []string // package names for the cuda toolkit install
	ExtensionRepo   string   // git url of the extension source
	ExtensionBranch string

	FetchRetries int // transient fetch/package retry count inside actions
	RetryDelayMs int // delay between retries

	BenchRuns     int    // timed runs per query, best run wins
	BenchScale    int    // rows in the generated benchmark table
	BenchWorkload string // optional yaml workload file, empty uses built-in
	ReportDir     string // benchmark report output, empty uses StateDir

	NotifyChannels      []string
	NotifyOnError       bool
	NotifyOnComplete    bool
	NotifyTimeoutMs     int
	NotifyTelegramToken string
	NotifyTelegramChat  string
	NotifySlackToken    string
	NotifySlackChannel  string
	NotifySMTPHost      string
	NotifySMTPPort      int
	NotifySMTPUsername  string
	NotifySMTPPassword  string
	NotifySMTPStartTLS  bool
	NotifyEmailFrom     string
	NotifyEmailTo       []string
	NotifyWebhookURLs   []string
	NotifyCustomScript  string
}

// CheckpointPath returns the checkpoint file location.
func (c *Config) CheckpointPath() string { return filepath.Join(c.StateDir, "checkpoint") }

// RunStatePath returns the run-state log location.
func (c *Config) RunStatePath() string { return filepath.Join(c.StateDir, "runstate.log") }

// InstallLogPath returns the per-run install log location.
func (c *Config) InstallLogPath() string { return filepath.Join(c.StateDir, "install.log") }

// Load reads configuration. With an explicit path only that file is used on
// top of the embedded defaults; otherwise the chain is embedded defaults,
// then ~/.config/stromup/config, then ./.stromup.conf (local wins).
func Load(path string) (*Config, error) {
	cfg, err := parseEmbedded()
	if err != nil {
		return nil, err
	}

	if path != "" {
		if err := mergeFile(cfg, path, true); err != nil {
			return nil, err
		}
		return finalize(cfg)
	}

	if home, homeErr := os.UserHomeDir(); homeErr == nil {
		if err := mergeFile(cfg, filepath.Join(home, ".config", "stromup", "config"), false); err != nil {
			return nil, err
		}
	}
	if err := mergeFile(cfg, ".stromup.conf", false); err != nil {
		return nil, err
	}
	return finalize(cfg)
}

// finalize expands paths and applies derived defaults.
func finalize(cfg *Config) (*Config, error) {
	var err error
	if cfg.StateDir, err = expandHome(cfg.StateDir); err != nil {
		return nil, err
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(cfg.StateDir, "build")
	} else if cfg.WorkDir, err = expandHome(cfg.WorkDir); err != nil {
		return nil, err
	}
	if cfg.ReportDir == "" {
		cfg.ReportDir = cfg.StateDir
	} else if cfg.ReportDir, err = expandHome(cfg.ReportDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseEmbedded() (*Config, error) {
	data, err := defaultsFS.ReadFile("defaults/config")
	if err != nil {
		return nil, fmt.Errorf("read embedded defaults: %w", err)
	}
	cfg := &Config{}
	if err := applyBytes(cfg, data); err != nil {
		return nil, fmt.Errorf("parse embedded defaults: %w", err)
	}
	return cfg, nil
}

// mergeFile applies a config file over cfg. A missing file is an error only
// when the path was requested explicitly.
func mergeFile(cfg *Config, path string, explicit bool) error {
	data, err := os.ReadFile(path) //nolint:gosec // config path from CLI or fixed locations
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := applyBytes(cfg, data); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyBytes parses ini data and overrides any keys present.
//
//nolint:gocyclo // flat key-by-key mapping, splitting would hurt readability
func applyBytes(cfg *Config, data []byte) error {
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
	if err != nil {
		return err
	}
	section := f.Section("")

	setString := func(name string, dst *string) {
		if key, keyErr := section.GetKey(name); keyErr == nil {
			*dst = strings.TrimSpace(key.String())
		}
	}
	setList := func(name string, dst *[]string) {
		if key, keyErr := section.GetKey(name); keyErr == nil {
			var items []string
			for p := range strings.SplitSeq(key.String(), ",") {
				if t := strings.TrimSpace(p); t != "" {
					items = append(items, t)
				}
			}
			*dst = items
		}
	}
	var intErr error
	setInt := func(name string, dst *int) {
		key, keyErr := section.GetKey(name)
		if keyErr != nil {
			return
		}
		val, convErr := key.Int()
		if convErr != nil {
			intErr = fmt.Errorf("invalid %s: %w", name, convErr)
			return
		}
		if val < 0 {
			intErr = fmt.Errorf("invalid %s: must be non-negative, got %d", name, val)
			return
		}
		*dst = val
	}
	var boolErr error
	setBool := func(name string, dst *bool) {
		key, keyErr := section.GetKey(name)
		if keyErr != nil {
			return
		}
		val, convErr := key.Bool()
		if convErr != nil {
			boolErr = fmt.Errorf("invalid %s: %w", name, convErr)
			return
		}
		*dst = val
	}

	setString("state_dir", &cfg.StateDir)
	setString("work_dir", &cfg.WorkDir)
	setString("pg_version", &cfg.PGVersion)
	setInt("pg_port", &cfg.PGPort)
	setString("db_name", &cfg.DBName)
	setString("db_user", &cfg.DBUser)
	setList("cuda_packages", &cfg.CudaPackages)
	setString("extension_repo", &cfg.ExtensionRepo)
	setString("extension_branch", &cfg.ExtensionBranch)
	setInt("fetch_retries", &cfg.FetchRetries)
	setInt("retry_delay_ms", &cfg.RetryDelayMs)
	setInt("bench_runs", &cfg.BenchRuns)
	setInt("bench_scale", &cfg.BenchScale)
	setString("bench_workload", &cfg.BenchWorkload)
	setString("report_dir", &cfg.ReportDir)
	setList("notify_channels", &cfg.NotifyChannels)
	setBool("notify_on_error", &cfg.NotifyOnError)
	setBool("notify_on_complete", &cfg.NotifyOnComplete)
	setInt("notify_timeout_ms", &cfg.NotifyTimeoutMs)
	setString("notify_telegram_token", &cfg.NotifyTelegramToken)
	setString("notify_telegram_chat", &cfg.NotifyTelegramChat)
	setString("notify_slack_token", &cfg.NotifySlackToken)
	setString("notify_slack_channel", &cfg.NotifySlackChannel)
	setString("notify_smtp_host", &cfg.NotifySMTPHost)
	setInt("notify_smtp_port", &cfg.NotifySMTPPort)
	setString("notify_smtp_username", &cfg.NotifySMTPUsername)
	setString("notify_smtp_password", &cfg.NotifySMTPPassword)
	setBool("notify_smtp_starttls", &cfg.NotifySMTPStartTLS)
	setString("notify_email_from", &cfg.NotifyEmailFrom)
	setList("notify_email_to", &cfg.NotifyEmailTo)
	setList("notify_webhook_urls", &cfg.NotifyWebhookURLs)
	setString("notify_custom_script", &cfg.NotifyCustomScript)

	if intErr != nil {
		return intErr
	}
	return boolErr
}

// expandHome resolves a leading ~ in a path.
func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
