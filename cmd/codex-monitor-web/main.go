// ABOUTME: Entry point for the codex-monitor-web launcher
// ABOUTME: Acquires the backend daemon, supervises it with the frontend, and issues one-shot RPC calls

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/abigmiu/codex-monitor-webui/internal/config"
	"github.com/abigmiu/codex-monitor-webui/internal/supervisor"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
               _                                _ _
  ___ ___   __| | _____  __  _ __ ___   ___  _ __ (_) |_ ___  _ __
 / __/ _ \ / _' |/ _ \ \/ / | '_ ' _ \ / _ \| '_ \| | __/ _ \| '__|
| (_| (_) | (_| |  __/>  <  | | | | | | (_) | | | | | || (_) | |
 \___\___/ \__,_|\___/_/\_\ |_| |_| |_|\___/|_| |_|_|\__\___/|_|
`

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// usageError marks argument and flag problems so they exit with exitUsage.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// usageArgs wraps a positional-args validator so its failures are usage errors.
func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd(ctx)
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	cancel()
	os.Exit(exitCode(err))
}

// exitCode maps a command result to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var usage *usageError
	if errors.As(err, &usage) {
		return exitUsage
	}
	var exit *supervisor.ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return exitFailure
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd(ctx context.Context) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "codex-monitor-web",
		Short:         "Run the Codex Monitor web backend and frontend together",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unknown command %q for %q", args[0], cmd.CommandPath())
			}
			return cmd.Help()
		},
	}
	root.SetContext(ctx)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (default $"+config.EnvConfig+" or $XDG_CONFIG_HOME/codex-monitor-web/config.yaml)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newRunCmd(g),
		newInstallCmd(g),
		newResolveCmd(g),
		newCacheCmd(g),
		newCallCmd(g),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves and loads the config file, then applies the
// environment and the global logging flags. Callers apply their own flags
// and must call Validate afterwards.
func (g *globalFlags) loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, explicit := g.configPath, g.configPath != ""
	if !explicit {
		path, explicit = config.DefaultPath(os.Getenv)
	}
	cfg, err := config.LoadOrDefault(path, explicit)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		switch g.logLevel {
		case "debug", "info", "warn", "error":
		default:
			return nil, path, usageErrorf("--log-level must be one of debug, info, warn, error")
		}
		cfg.Logging.Level = g.logLevel
	}
	if flags.Changed("log-format") {
		if g.logFormat != "text" && g.logFormat != "json" {
			return nil, path, usageErrorf("--log-format must be text or json")
		}
		cfg.Logging.Format = g.logFormat
	}
	return cfg, path, nil
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func printBanner(w io.Writer) {
	cyan := color.New(color.FgCyan)
	cyan.Fprint(w, banner)

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(w, "    version: %s\n\n", version)
}

// statusLine prints one "▶ Label: value" startup line.
func statusLine(w io.Writer, label, value string) {
	green := color.New(color.FgGreen)
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "%-10s %s\n", label+":", value)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the launcher version",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
