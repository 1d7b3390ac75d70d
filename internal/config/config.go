// Package config handles casechat configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
)

// Config is the root configuration structure for casechat.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Session identity and persisted state
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Message collaborator endpoints
	API APIConfig `yaml:"api" mapstructure:"api"`

	// Sync engine tuning
	Sync SyncConfig `yaml:"sync" mapstructure:"sync"`

	// Reference collaborator daemon
	Daemon DaemonConfig `yaml:"daemon" mapstructure:"daemon"`
}

// GlobalConfig contains global casechat settings.
type GlobalConfig struct {
	// DataDir is where casechat stores its data (default: ~/.local/share/casechat).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/casechat).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional rotating log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// SessionConfig identifies the session user.
type SessionConfig struct {
	// UserID is the viewing user. Required by client commands.
	UserID int64 `yaml:"user_id" mapstructure:"user_id"`

	// StatePath is the session state file (default: DataDir/session.json).
	StatePath string `yaml:"state_path" mapstructure:"state_path"`
}

// APIConfig locates the message collaborator.
type APIConfig struct {
	// BaseURL is the REST root.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// PushURL is the websocket endpoint (default: derived from BaseURL).
	PushURL string `yaml:"push_url" mapstructure:"push_url"`

	// Timeout bounds each request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	// PollInterval is the fixed polling tick.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// PageSize is the history page and conversation window size.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`

	// BootstrapLimit is the size of the first cross-conversation fetch.
	BootstrapLimit int `yaml:"bootstrap_limit" mapstructure:"bootstrap_limit"`

	// IdleWindow is how long after input the user still counts as present.
	IdleWindow time.Duration `yaml:"idle_window" mapstructure:"idle_window"`

	// MarkReadInterval spaces mark-as-read calls per conversation.
	MarkReadInterval time.Duration `yaml:"mark_read_interval" mapstructure:"mark_read_interval"`
}

// DaemonConfig configures casemsgd.
type DaemonConfig struct {
	// Hostname and Port form the listen address.
	Hostname string `yaml:"hostname" mapstructure:"hostname"`
	Port     int    `yaml:"port" mapstructure:"port"`

	// DatabasePath is the SQLite file (default: DataDir/messages.db).
	DatabasePath string `yaml:"database_path" mapstructure:"database_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := homedir.Dir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "casechat"),
			ConfigDir: filepath.Join(homeDir, ".config", "casechat"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		API: APIConfig{
			BaseURL: "http://127.0.0.1:8470",
			Timeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			PollInterval:     5 * time.Second,
			PageSize:         50,
			BootstrapLimit:   200,
			IdleWindow:       60 * time.Second,
			MarkReadInterval: 2 * time.Second,
		},
		Daemon: DaemonConfig{
			Hostname: "127.0.0.1",
			Port:     8470,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Session.UserID < 0 {
		return fmt.Errorf("session.user_id must not be negative")
	}
	if err := validateURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.API.PushURL != "" {
		if err := validateURL("api.push_url", c.API.PushURL, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.API.Timeout < 100*time.Millisecond {
		return fmt.Errorf("api.timeout must be at least 100ms")
	}
	if c.Sync.PollInterval < time.Second {
		return fmt.Errorf("sync.poll_interval must be at least 1s")
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 500 {
		return fmt.Errorf("sync.page_size must be between 1 and 500")
	}
	if c.Sync.BootstrapLimit < 1 {
		return fmt.Errorf("sync.bootstrap_limit must be at least 1")
	}
	if c.Sync.IdleWindow < time.Second {
		return fmt.Errorf("sync.idle_window must be at least 1s")
	}
	if c.Sync.MarkReadInterval < 100*time.Millisecond {
		return fmt.Errorf("sync.mark_read_interval must be at least 100ms")
	}
	if c.Daemon.Port < 1 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port must be between 1 and 65535")
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute url", field)
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			return nil
		}
	}
	return fmt.Errorf("%s must use %s", field, strings.Join(schemes, " or "))
}

// ErrNoUser is returned when a client command runs without a session user.
var ErrNoUser = errors.New("session.user_id is not set (use --user or CASECHAT_SESSION_USER_ID)")

// RequireUser returns the session user or ErrNoUser.
func (c *Config) RequireUser() (int64, error) {
	if c.Session.UserID <= 0 {
		return 0, ErrNoUser
	}
	return c.Session.UserID, nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		filepath.Dir(c.SessionStatePath()),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// SessionStatePath returns the session state file, scoped per user when
// defaulted.
func (c *Config) SessionStatePath() string {
	if c.Session.StatePath != "" {
		return c.Session.StatePath
	}
	return filepath.Join(c.Global.DataDir, fmt.Sprintf("session-%d.json", c.Session.UserID))
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Daemon.DatabasePath != "" {
		return c.Daemon.DatabasePath
	}
	return filepath.Join(c.Global.DataDir, "messages.db")
}

// PushURL returns the websocket push endpoint.
func (c *Config) PushURL() string {
	if c.API.PushURL != "" {
		return c.API.PushURL
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/push"
	return u.String()
}
