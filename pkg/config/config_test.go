package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmbeddedDefaults(t *testing.T) {
	// isolate from any real global/local config
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "16", cfg.PGVersion)
	assert.Equal(t, 5432, cfg.PGPort)
	assert.Equal(t, "strombench", cfg.DBName)
	assert.Equal(t, "postgres", cfg.DBUser)
	assert.Equal(t, []string{"cuda-toolkit"}, cfg.CudaPackages)
	assert.Equal(t, "https://github.com/heterodb/pg-strom.git", cfg.ExtensionRepo)
	assert.Equal(t, 3, cfg.FetchRetries)
	assert.Equal(t, 3, cfg.BenchRuns)
	assert.Equal(t, 1000000, cfg.BenchScale)
	assert.True(t, cfg.NotifyOnError)
	assert.Empty(t, cfg.NotifyChannels)

	// state_dir expanded, derived dirs fall back to it
	assert.NotContains(t, cfg.StateDir, "~")
	assert.Equal(t, filepath.Join(cfg.StateDir, "build"), cfg.WorkDir)
	assert.Equal(t, cfg.StateDir, cfg.ReportDir)
}

func TestLoad_ExplicitFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	content := `pg_version = 17
pg_port = 5433
db_name = mybench
cuda_packages = cuda-toolkit-12-4, cuda-drivers
bench_runs = 5
notify_channels = webhook
notify_webhook_urls = https://example.com/hook
state_dir = /tmp/stromup-test
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "17", cfg.PGVersion)
	assert.Equal(t, 5433, cfg.PGPort)
	assert.Equal(t, "mybench", cfg.DBName)
	assert.Equal(t, []string{"cuda-toolkit-12-4", "cuda-drivers"}, cfg.CudaPackages)
	assert.Equal(t, 5, cfg.BenchRuns)
	assert.Equal(t, []string{"webhook"}, cfg.NotifyChannels)
	assert.Equal(t, "/tmp/stromup-test", cfg.StateDir)

	// untouched keys keep embedded defaults
	assert.Equal(t, "postgres", cfg.DBUser)
	assert.Equal(t, 3, cfg.FetchRetries)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoad_LocalOverridesGlobal(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	globalDir := filepath.Join(home, ".config", "stromup")
	require.NoError(t, os.MkdirAll(globalDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "config"),
		[]byte("pg_port = 6000\ndb_name = fromglobal\n"), 0o644))

	local := t.TempDir()
	t.Chdir(local)
	require.NoError(t, os.WriteFile(filepath.Join(local, ".stromup.conf"),
		[]byte("pg_port = 7000\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.PGPort)         // local wins
	assert.Equal(t, "fromglobal", cfg.DBName) // global still applies
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "non-numeric int", content: "pg_port = lots\n"},
		{name: "negative int", content: "fetch_retries = -1\n"},
		{name: "bad bool", content: "notify_on_error = sometimes\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestConfig_Paths(t *testing.T) {
	cfg := &Config{StateDir: "/var/lib/stromup"}

	assert.Equal(t, "/var/lib/stromup/checkpoint", cfg.CheckpointPath())
	assert.Equal(t, "/var/lib/stromup/runstate.log", cfg.RunStatePath())
	assert.Equal(t, "/var/lib/stromup/install.log", cfg.InstallLogPath())
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/op")

	got, err := expandHome("~/.stromup")
	require.NoError(t, err)
	assert.Equal(t, "/home/op/.stromup", got)

	got, err = expandHome("/absolute/path")
	require.NoError(t, err)
	assert.Equal(t, "/absolute/path", got)
}
