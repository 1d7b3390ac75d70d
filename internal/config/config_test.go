package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTest changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdirTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	chdirTest(t, t.TempDir())
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ws://127.0.0.1:8470/v1/push", cfg.PushURL())
	assert.Equal(t, filepath.Join(cfg.Global.DataDir, "messages.db"), cfg.DatabasePath())

	_, err := cfg.RequireUser()
	require.ErrorIs(t, err, ErrNoUser)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{name: "relative base url", modify: func(c *Config) { c.API.BaseURL = "/api" }, want: "api.base_url"},
		{name: "ws base url", modify: func(c *Config) { c.API.BaseURL = "ws://host" }, want: "api.base_url must use http or https"},
		{name: "http push url", modify: func(c *Config) { c.API.PushURL = "http://host/v1/push" }, want: "api.push_url"},
		{name: "fast polling", modify: func(c *Config) { c.Sync.PollInterval = 10 * time.Millisecond }, want: "sync.poll_interval"},
		{name: "zero page", modify: func(c *Config) { c.Sync.PageSize = 0 }, want: "sync.page_size"},
		{name: "huge page", modify: func(c *Config) { c.Sync.PageSize = 501 }, want: "sync.page_size"},
		{name: "short idle window", modify: func(c *Config) { c.Sync.IdleWindow = 0 }, want: "sync.idle_window"},
		{name: "bad port", modify: func(c *Config) { c.Daemon.Port = 70000 }, want: "daemon.port"},
		{name: "negative user", modify: func(c *Config) { c.Session.UserID = -1 }, want: "session.user_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPushURLDerivation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.BaseURL = "https://chat.example.com/api/"
	assert.Equal(t, "wss://chat.example.com/api/v1/push", cfg.PushURL())

	cfg.API.PushURL = "ws://push.example.com/v1/push"
	assert.Equal(t, "ws://push.example.com/v1/push", cfg.PushURL())
}

func TestLoaderPrecedence(t *testing.T) {
	isolate(t)

	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
session:
  user_id: 3
sync:
  poll_interval: 10s
  page_size: 25
daemon:
  port: 9000
`), 0o644))

	t.Setenv("CASECHAT_SYNC_PAGE_SIZE", "40")
	t.Setenv("CASECHAT_API_TIMEOUT", "3s")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int64("user", 0, "")
	flags.Int("port", 0, "")
	require.NoError(t, flags.Parse([]string{"--user", "9"}))

	loader := NewLoader()
	loader.SetConfigFile(file)
	loader.BindFlag("session.user_id", flags.Lookup("user"))
	loader.BindFlag("daemon.port", flags.Lookup("port"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, file, loader.ConfigFileUsed())

	assert.Equal(t, int64(9), cfg.Session.UserID, "flag beats file")
	assert.Equal(t, 40, cfg.Sync.PageSize, "env beats file")
	assert.Equal(t, 10*time.Second, cfg.Sync.PollInterval, "file beats default")
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, 9000, cfg.Daemon.Port, "unset flag does not shadow file")
	assert.Equal(t, 200, cfg.Sync.BootstrapLimit)
}

func TestLoaderReadsEnvFile(t *testing.T) {
	isolate(t)

	envFile := filepath.Join(t.TempDir(), "casechat.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CASECHAT_SESSION_USER_ID=12\nCASECHAT_API_BASE_URL=http://10.0.0.5:8470\n"), 0o644))
	t.Cleanup(func() {
		_ = os.Unsetenv("CASECHAT_SESSION_USER_ID")
		_ = os.Unsetenv("CASECHAT_API_BASE_URL")
	})

	loader := NewLoader()
	loader.SetEnvFiles(envFile)
	cfg, err := loader.Load()
	require.NoError(t, err)

	user, err := cfg.RequireUser()
	require.NoError(t, err)
	assert.Equal(t, int64(12), user)
	assert.Equal(t, "ws://10.0.0.5:8470/v1/push", cfg.PushURL())
	assert.Equal(t, filepath.Join(cfg.Global.DataDir, "session-12.json"), cfg.SessionStatePath())
}

func TestLoaderRejectsInvalidFile(t *testing.T) {
	isolate(t)

	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("sync:\n  page_size: 0\n"), 0o644))

	_, err := LoadFromFile(file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.page_size")

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoaderExpandsTilde(t *testing.T) {
	isolate(t)
	t.Setenv("CASECHAT_DAEMON_DATABASE_PATH", "~/casechat/messages.db")

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.NotContains(t, cfg.DatabasePath(), "~")
	assert.True(t, filepath.IsAbs(cfg.DatabasePath()))
}
