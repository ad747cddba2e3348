// ABOUTME: The run subcommand: resolve the backend, start it, wait for readiness, then start the frontend.
// ABOUTME: Flags override the environment, which overrides the config file.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abigmiu/codex-monitor-webui/internal/acquire"
	"github.com/abigmiu/codex-monitor-webui/internal/config"
	"github.com/abigmiu/codex-monitor-webui/internal/supervisor"
	"github.com/abigmiu/codex-monitor-webui/internal/target"
)

// Environment handed to the frontend process.
const (
	envFrontendHost = "HOST"
	envFrontendPort = "PORT"
)

type runFlags struct {
	listen         string
	dataDir        string
	token          string
	noToken        bool
	backendBin     string
	cacheDir       string
	autoDownload   bool
	noAutoDownload bool
	frontendHost   string
	frontendPort   int
	backendOnly    bool
	frontendOnly   bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the backend daemon and the frontend server",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, g, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.listen, "listen", config.DefaultListen, "backend listen address")
	fl.StringVar(&f.dataDir, "data-dir", "", "backend data directory")
	fl.StringVar(&f.token, "token", "", "shared token required by clients")
	fl.BoolVar(&f.noToken, "no-token", false, "start the backend without a token")
	fl.StringVar(&f.backendBin, "backend-bin", "", "backend executable to run")
	fl.StringVar(&f.cacheDir, "cache-dir", "", "download cache directory")
	fl.BoolVar(&f.autoDownload, "auto-download", true, "download the backend when it is not found")
	fl.BoolVar(&f.noAutoDownload, "no-auto-download", false, "never download the backend")
	fl.StringVar(&f.frontendHost, "frontend-host", config.DefaultFrontendHost, "frontend bind host")
	fl.IntVar(&f.frontendPort, "frontend-port", config.DefaultFrontendPort, "frontend bind port")
	fl.BoolVar(&f.backendOnly, "backend-only", false, "start only the backend")
	fl.BoolVar(&f.frontendOnly, "frontend-only", false, "start only the frontend")
	return cmd
}

// apply overlays explicitly set flags onto cfg.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	if f.backendOnly && f.frontendOnly {
		return usageErrorf("--backend-only and --frontend-only are mutually exclusive")
	}
	if fl.Changed("auto-download") && fl.Changed("no-auto-download") && f.autoDownload == f.noAutoDownload {
		return usageErrorf("--auto-download and --no-auto-download disagree")
	}
	if f.token != "" && f.noToken {
		return usageErrorf("--token and --no-token are mutually exclusive")
	}

	if fl.Changed("listen") {
		cfg.Backend.Listen = f.listen
	}
	if fl.Changed("data-dir") {
		cfg.Backend.DataDir = f.dataDir
	}
	if fl.Changed("token") {
		cfg.Backend.Token = f.token
	}
	if f.noToken {
		cfg.Backend.NoToken = true
	}
	if fl.Changed("backend-bin") {
		cfg.Backend.Bin = f.backendBin
	}
	if fl.Changed("cache-dir") {
		cfg.Download.CacheDir = f.cacheDir
	}
	if fl.Changed("auto-download") {
		cfg.Download.Skip = !f.autoDownload
	}
	if f.noAutoDownload {
		cfg.Download.Skip = true
	}
	if fl.Changed("frontend-host") {
		cfg.Frontend.Host = f.frontendHost
	}
	if fl.Changed("frontend-port") {
		if f.frontendPort < 0 || f.frontendPort > 65535 {
			return usageErrorf("--frontend-port %d is out of range", f.frontendPort)
		}
		cfg.Frontend.Port = f.frontendPort
	}
	return nil
}

func (f *runFlags) mode() supervisor.Mode {
	switch {
	case f.backendOnly:
		return supervisor.ModeBackendOnly
	case f.frontendOnly:
		return supervisor.ModeFrontendOnly
	default:
		return supervisor.ModeAll
	}
}

func runRun(cmd *cobra.Command, g *globalFlags, f *runFlags) error {
	ctx := cmd.Context()

	cfg, configPath, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := f.apply(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stderr)
	out := cmd.OutOrStdout()
	printBanner(out)

	mode := f.mode()
	if mode == supervisor.ModeAll && cfg.Frontend.Command == "" {
		logger.Warn("no frontend.command configured, starting the backend only", "config", configPath)
		mode = supervisor.ModeBackendOnly
	}

	token := cfg.EffectiveToken()
	probeAddr := dialableAddr(cfg.Backend.Listen)
	backendTarget, err := backendTargetFor(mode, cfg, probeAddr)
	if err != nil {
		return err
	}

	opts := supervisor.Options{
		Mode: mode,
		Probe: supervisor.Probe{
			Addr:     probeAddr,
			Timeout:  cfg.Supervisor.ReadyTimeout,
			Interval: cfg.Supervisor.ProbeInterval,
		},
		GracePeriod: cfg.Supervisor.GracePeriod,
		Logger:      logger,
	}

	statusLine(out, "Config", configPath)
	statusLine(out, "Mode", string(mode))

	if mode != supervisor.ModeFrontendOnly {
		resolved, err := newAcquirer(cfg, logger).Resolve(ctx)
		if err != nil {
			logger.Error("no backend available", "error", err)
			return err
		}
		desc := resolved.WithArgs(backendArgs(cfg, token)...)
		opts.Backend = supervisor.ChildSpec{
			Name:    "backend",
			Command: desc.Command,
			Args:    desc.Args,
			Dir:     desc.Dir,
			Env:     desc.Env,
		}
		statusLine(out, "Backend", fmt.Sprintf("%s (%s)", desc.Command, desc.Source))
		statusLine(out, "Listen", cfg.Backend.Listen)
		statusLine(out, "Data", cfg.Backend.DataDir)
	}

	if mode != supervisor.ModeBackendOnly {
		opts.Frontend = supervisor.ChildSpec{
			Name:    "frontend",
			Command: cfg.Frontend.Command,
			Args:    cfg.Frontend.Args,
			Dir:     cfg.Frontend.Dir,
			Env:     frontendEnv(cfg, backendTarget, token),
		}
		statusLine(out, "Frontend", "http://"+net.JoinHostPort(cfg.Frontend.Host, strconv.Itoa(cfg.Frontend.Port)))
	}
	statusLine(out, "RPC", backendTarget.RPCURL(""))
	fmt.Fprintln(out)

	sup, err := supervisor.New(opts)
	if err != nil {
		return err
	}

	// The supervisor owns signal handling from here on so it can forward
	// the first signal and escalate on the second.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	// Signals reach the supervisor through its own channel; letting ctx
	// cancel as well would race the forwarded signal.
	return sup.Run(context.WithoutCancel(ctx), signals)
}

func newAcquirer(cfg *config.Config, logger *slog.Logger) *acquire.Acquirer {
	return acquire.New(acquire.Options{
		ExplicitPath: cfg.Backend.Bin,
		Version:      version,
		CacheDir:     cfg.Download.CacheDir,
		SourceDir:    cfg.Backend.SourceDir,
		ReleaseBase:  cfg.Download.ReleaseBase,
		SkipDownload: cfg.Download.Skip,
		Logger:       logger,
	})
}

// backendArgs are the daemon's own flags followed by any configured extras.
func backendArgs(cfg *config.Config, token string) []string {
	args := []string{"--listen", cfg.Backend.Listen, "--data-dir", cfg.Backend.DataDir}
	if token != "" {
		args = append(args, "--token", token)
	}
	return append(args, cfg.Backend.Args...)
}

// backendTargetFor is the address the frontend and status output use. A
// backend started here is always reached at its listen address; in
// frontend-only mode the usual lookup applies.
func backendTargetFor(mode supervisor.Mode, cfg *config.Config, probeAddr string) (target.Target, error) {
	in := target.Inputs{Getenv: os.Getenv, Injected: cfg.Client.URL}
	if mode != supervisor.ModeFrontendOnly {
		in = target.Inputs{Override: probeAddr}
	}
	t, err := target.Resolve(in)
	if err != nil {
		return target.Target{}, &usageError{err: err}
	}
	return t, nil
}

func frontendEnv(cfg *config.Config, t target.Target, token string) []string {
	env := []string{
		target.EnvBackendURL + "=" + t.HTTPURL(),
		envFrontendHost + "=" + cfg.Frontend.Host,
		envFrontendPort + "=" + strconv.Itoa(cfg.Frontend.Port),
	}
	if token != "" {
		env = append(env, config.EnvToken+"="+token)
	}
	return env
}

// dialableAddr turns a wildcard listen address into one a client can dial.
func dialableAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}
	return net.JoinHostPort(host, port)
}
