// Package cmd provides the switchyard command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adalundhe/switchyard/core/config"
	"github.com/adalundhe/switchyard/core/storage"
)

var (
	logLevel   string
	logFormat  string
	configPath string

	// appConfig is loaded by the root pre-run hook.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "switchyard",
	Short: "Switchyard - intent classification and agent routing",
	Long: `Switchyard classifies user messages against a keyword rule table and
routes each turn through a pipeline of agents guarded by circuit breakers.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	flags.StringVar(&configPath, "config", "", "Config file (skips the config search path)")
}

func Execute() error {
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd.ErrOrStderr(), logLevel, logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	appConfig = cfg
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}

func loadConfig(path string) (*config.Config, error) {
	m := config.NewManager(storage.ResolveDirs(), ".")
	var err error
	if path != "" {
		err = m.LoadFile(path)
	} else {
		err = m.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return m.Get(), nil
}

// currentConfig falls back to defaults when a command runs without the root
// pre-run hook (tests call RunE directly).
func currentConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

// colorize wraps s in an ANSI color when w is a terminal.
func colorize(w io.Writer, color, s string) string {
	if !isTerminal(w) {
		return s
	}
	return color + s + colorReset
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && isTerminalFd(f)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
