package logqueue

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "logs", cfg.Queue)
	require.Equal(t, 250*time.Millisecond, cfg.Shipper.IdleInterval.Duration)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
directory = "/var/spool/app"
queue = "app_logs"

[producer]
workers = 2
buffer = 64

[shipper]
idle_interval = "100ms"
max_idle_interval = "2s"
retry_interval = "500ms"

[log]
level = "debug"
format = "json"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/var/spool/app", cfg.Directory)
	require.Equal(t, "app_logs", cfg.Queue)
	require.Equal(t, uint(2), cfg.Producer.Workers)
	require.Equal(t, uint(64), cfg.Producer.Buffer)
	require.Equal(t, 100*time.Millisecond, cfg.Shipper.IdleInterval.Duration)
	require.Equal(t, 2*time.Second, cfg.Shipper.MaxIdleInterval.Duration)
	require.Equal(t, 500*time.Millisecond, cfg.Shipper.RetryInterval.Duration)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
	require.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`queue = "other"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "other", cfg.Queue)
	require.Equal(t, Default().Shipper, cfg.Shipper)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)

	cases := map[string]string{
		"unknown field":   `colour = "blue"`,
		"bad duration":    "[shipper]\nidle_interval = \"soon\"",
		"bad level":       "[log]\nlevel = \"loud\"",
		"bad format":      "[log]\nformat = \"xml\"",
		"empty queue":     `queue = ""`,
		"inverted idle":   "[shipper]\nidle_interval = \"10s\"\nmax_idle_interval = \"1s\"",
		"zero retry":      "[shipper]\nretry_interval = \"0s\"",
		"blank directory": `directory = "  "`,
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".toml")
			require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestLoad_DefaultPathMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Queue, cfg.Queue)
}
