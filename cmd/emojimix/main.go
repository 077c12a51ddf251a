// Command emojimix serves emoji kitchen mash-up URLs for pairs of emoji.
//
//	emojimix serve                  HTTP + MCP server
//	emojimix refresh                download the metadata and replace the mapping
//	emojimix lookup 😀_😂            resolve one pair
//	emojimix status                 snapshot and refresh history as JSON
//	emojimix hash-password SECRET   bcrypt hash for admin.password_hash
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/emojimix/mixer"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DBPath     string
	RawPath    string
	SourceURL  string
	LogLevel   string

	logger *slog.Logger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("emojimix: fatal", "error", err)
		os.Exit(1)
	}
}

// NewRootCommand creates the emojimix root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "emojimix",
		Short:         "Emoji kitchen mash-up lookup service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.LogLevel)
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", env("EMOJIMIX_CONFIG", ""), "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", env("EMOJIMIX_DB", ""), "SQLite database path")
	cmd.PersistentFlags().StringVar(&opts.RawPath, "raw", env("EMOJIMIX_RAW", ""), "path of the raw metadata copy")
	cmd.PersistentFlags().StringVar(&opts.SourceURL, "source", env("EMOJIMIX_SOURCE", ""), "metadata source URL")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", env("LOG_LEVEL", "info"), "log level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))
	cmd.AddCommand(NewLookupCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewHashPasswordCommand())

	return cmd
}

// loadConfig reads the config file if one was given, then applies flag and
// environment overrides.
func (o *RootOptions) loadConfig() (*mixer.Config, error) {
	cfg := &mixer.Config{}
	if o.ConfigPath != "" {
		var err error
		if cfg, err = mixer.LoadConfigFile(o.ConfigPath); err != nil {
			return nil, err
		}
	}
	if o.DBPath != "" {
		cfg.DBPath = o.DBPath
	}
	if o.RawPath != "" {
		cfg.RawPath = o.RawPath
	}
	if o.SourceURL != "" {
		cfg.Fetch.URL = o.SourceURL
	}
	return cfg, nil
}

// openService builds a Service from the resolved config.
func (o *RootOptions) openService(cfg *mixer.Config) (*mixer.Service, error) {
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	return mixer.New(cfg, logger)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
