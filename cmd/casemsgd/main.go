// Package main is the entry point for casemsgd, the message server that
// casechat clients sync against.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/tOgg1/casechat/internal/config"
	"github.com/tOgg1/casechat/internal/logging"
	"github.com/tOgg1/casechat/internal/msgdb"
	"github.com/tOgg1/casechat/internal/msgserver"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	hostname := flag.String("hostname", "", "hostname to listen on (default daemon.hostname)")
	port := flag.Int("port", 0, "port to listen on (default daemon.port)")
	configFile := flag.String("config", "", "config file (default is $HOME/.config/casechat/config.yaml)")
	dbPath := flag.String("db", "", "sqlite database path (default daemon.database_path)")
	logLevel := flag.String("log-level", "", "override logging level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "override logging format (json, console)")
	flag.Parse()

	cfg, loader, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *hostname != "" {
		cfg.Daemon.Hostname = *hostname
	}
	if *port != 0 {
		cfg.Daemon.Port = *port
	}
	if *dbPath != "" {
		cfg.Daemon.DatabasePath = *dbPath
	}

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		File:         cfg.Logging.File,
		MaxSizeMB:    50,
		MaxBackups:   5,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	logger := logging.Component("casemsgd")

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Warn().Err(err).Msg("failed to create directories")
	}
	if cfgUsed := loader.ConfigFileUsed(); cfgUsed != "" {
		logger.Debug().Str("config_file", cfgUsed).Msg("loaded config file")
	}

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Msg("casemsgd starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := msgdb.Open(ctx, cfg.DatabasePath())
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.DatabasePath()).Msg("failed to open database")
		os.Exit(1)
	}

	server := msgserver.New(store, msgserver.Options{
		Hostname: cfg.Daemon.Hostname,
		Port:     cfg.Daemon.Port,
	})
	runErr := server.Run(ctx)
	if err := store.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close database")
	}
	if runErr != nil {
		logger.Error().Err(runErr).Msg("casemsgd exited with error")
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.SetConfigFile(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}
