package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CASECHAT_SESSION_USER_ID.
const EnvPrefix = "CASECHAT"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
	envFiles   []string
	flags      map[string]*pflag.Flag
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:     viper.New(),
		flags: make(map[string]*pflag.Flag),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// SetEnvFiles sets the dotenv files read before the environment is
// consulted. Default: ".env" in the working directory, if present.
func (l *Loader) SetEnvFiles(paths ...string) {
	l.envFiles = paths
}

// BindFlag makes a command-line flag override key when it was set.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) {
	if flag != nil {
		l.flags[key] = flag
	}
}

// Load loads configuration with proper precedence:
// defaults < config file < .env < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.loadEnvFiles(); err != nil {
		return nil, err
	}

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	for key, flag := range l.flags {
		if err := l.v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := expandPaths(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadEnvFiles populates the process environment from dotenv files without
// overriding variables that are already set.
func (l *Loader) loadEnvFiles() error {
	if l.envFiles == nil {
		if _, err := os.Stat(".env"); err == nil {
			return godotenv.Load(".env")
		}
		return nil
	}
	for _, path := range l.envFiles {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	return nil
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) error {
	fields := []*string{
		&cfg.Global.DataDir,
		&cfg.Global.ConfigDir,
		&cfg.Logging.File,
		&cfg.Session.StatePath,
		&cfg.Daemon.DatabasePath,
	}
	for _, field := range fields {
		expanded, err := homedir.Expand(*field)
		if err != nil {
			return fmt.Errorf("failed to expand %q: %w", *field, err)
		}
		*field = expanded
	}
	return nil
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "casechat"))
	}
	if homeDir, err := homedir.Dir(); err == nil && homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "casechat"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)

	// Unmarshal only sees env vars for keys viper already knows about.
	for _, key := range envBindings {
		_ = v.BindEnv(key)
	}

	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// Global
	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// Session
	v.SetDefault("session.user_id", cfg.Session.UserID)
	v.SetDefault("session.state_path", cfg.Session.StatePath)

	// API
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.push_url", cfg.API.PushURL)
	v.SetDefault("api.timeout", cfg.API.Timeout)

	// Sync
	v.SetDefault("sync.poll_interval", cfg.Sync.PollInterval)
	v.SetDefault("sync.page_size", cfg.Sync.PageSize)
	v.SetDefault("sync.bootstrap_limit", cfg.Sync.BootstrapLimit)
	v.SetDefault("sync.idle_window", cfg.Sync.IdleWindow)
	v.SetDefault("sync.mark_read_interval", cfg.Sync.MarkReadInterval)

	// Daemon
	v.SetDefault("daemon.hostname", cfg.Daemon.Hostname)
	v.SetDefault("daemon.port", cfg.Daemon.Port)
	v.SetDefault("daemon.database_path", cfg.Daemon.DatabasePath)
}

var envBindings = []string{
	"global.data_dir",
	"global.config_dir",
	"logging.level",
	"logging.format",
	"logging.file",
	"logging.enable_caller",
	"session.user_id",
	"session.state_path",
	"api.base_url",
	"api.push_url",
	"api.timeout",
	"sync.poll_interval",
	"sync.page_size",
	"sync.bootstrap_limit",
	"sync.idle_window",
	"sync.mark_read_interval",
	"daemon.hostname",
	"daemon.port",
	"daemon.database_path",
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		path, err := homedir.Expand(l.configFile)
		if err != nil {
			return err
		}
		l.v.SetConfigFile(path)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}
