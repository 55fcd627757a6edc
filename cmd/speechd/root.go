package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"speechd/internal/config"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	logFormat  string
	dataDir    string
}

func buildRootCmd() *cobra.Command {
	opts := &options{
		configPath: os.Getenv("SPEECHD_CONFIG"),
		logLevel:   envStr("SPEECHD_LOG_LEVEL", ""),
	}
	root := &cobra.Command{
		Use:           "speechd",
		Short:         "Load speech models on demand and unload them when idle",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "Config file (.yaml, .json, .toml); defaults SPEECHD_CONFIG")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level: debug|info|warn|error (defaults SPEECHD_LOG_LEVEL or info)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: console|json")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Base directory for models and the event journal")

	root.AddCommand(newServeCmd(opts), newModelsCmd(opts))
	return root
}

// loadConfig reads the config file (if any), applies persistent flag
// overrides and fills defaults.
func (o *options) loadConfig() (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	return cfg.WithDefaults(), nil
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// splitCSV splits a comma separated list, dropping blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
