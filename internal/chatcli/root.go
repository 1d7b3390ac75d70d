// Package chatcli implements the casechat command tree.
package chatcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/casechat/internal/config"
	"github.com/tOgg1/casechat/internal/logging"
	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/msgapi"
)

// app carries what every subcommand needs once the root has loaded config.
type app struct {
	cfg    *config.Config
	userID int64
	svc    msgapi.Service

	// newService builds the collaborator client. Tests replace it.
	newService func(cfg *config.Config, userID int64) (msgapi.Service, error)
}

// Execute runs the casechat command tree.
func Execute(version string) error {
	return newRootCmd(version, &app{newService: newClient}).Execute()
}

func newClient(cfg *config.Config, userID int64) (msgapi.Service, error) {
	return msgapi.NewClient(msgapi.ClientConfig{
		BaseURL: cfg.API.BaseURL,
		UserID:  userID,
		Timeout: cfg.API.Timeout,
	})
}

func newRootCmd(version string, a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "casechat",
		Short:         "Case messaging from the terminal",
		Long:          "casechat sends, lists and follows case conversations against a message server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (default is $HOME/.config/casechat/config.yaml)")
	flags.StringSlice("env-file", nil, "dotenv files to load (default is ./.env when present)")
	flags.Int64P("user", "u", 0, "session user id")
	flags.String("api", "", "message server base url")
	flags.String("log-level", "", "override logging level (debug, info, warn, error)")
	flags.String("log-format", "", "override logging format (json, console)")

	cmd.AddCommand(
		newSendCmd(a),
		newHistoryCmd(a),
		newUnreadCmd(a),
		newTeamsCmd(a),
		newEditCmd(a),
		newDeleteCmd(a),
		newWatchCmd(a),
	)
	return cmd
}

func (a *app) load(cmd *cobra.Command) error {
	root := cmd.Root().PersistentFlags()

	loader := config.NewLoader()
	if path, _ := root.GetString("config"); path != "" {
		loader.SetConfigFile(path)
	}
	if files, _ := root.GetStringSlice("env-file"); len(files) > 0 {
		loader.SetEnvFiles(files...)
	}
	loader.BindFlag("session.user_id", root.Lookup("user"))
	loader.BindFlag("api.base_url", root.Lookup("api"))
	loader.BindFlag("logging.level", root.Lookup("log-level"))
	loader.BindFlag("logging.format", root.Lookup("log-format"))

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cmd.ErrOrStderr(),
		File:         cfg.Logging.File,
		MaxSizeMB:    10,
		MaxBackups:   3,
		EnableCaller: cfg.Logging.EnableCaller,
	})

	if a.userID, err = cfg.RequireUser(); err != nil {
		return err
	}
	if a.svc == nil {
		if a.svc, err = a.newService(cfg, a.userID); err != nil {
			return err
		}
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parseTarget accepts user:<id>, team:<id>, @<id> and #<id>.
func parseTarget(raw string) (models.Recipient, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "@"):
		raw = "user:" + raw[1:]
	case strings.HasPrefix(raw, "#"):
		raw = "team:" + raw[1:]
	}
	key, err := models.ParseConversationKey(raw)
	if err != nil {
		return models.Recipient{}, fmt.Errorf("invalid conversation %q (want user:<id>, team:<id>, @<id> or #<id>)", raw)
	}
	return key.Recipient()
}

func writeJSON(out io.Writer, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(payload))
	return err
}

func readStdinIfPiped(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok {
		info, err := f.Stat()
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
