// ABOUTME: install, resolve and cache subcommands for the backend download cache.
// ABOUTME: install is safe to run from a package postinstall hook: failures only warn unless strict.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newInstallCmd(g *globalFlags) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Download the backend for this platform into the cache",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Logging, os.Stderr)
			a := newAcquirer(cfg, logger)

			path, err := a.Install(cmd.Context(), strict || a.StrictFromEnv())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if path == "" {
				color.New(color.FgYellow).Fprint(out, "    ! ")
				fmt.Fprintln(out, "backend not installed; run will look on PATH instead")
				return nil
			}
			statusLine(out, "Installed", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when the download fails")
	return cmd
}

func newResolveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Print the backend command run would start",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Logging, os.Stderr)
			desc, err := newAcquirer(cfg, logger).Resolve(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "source:  %s\n", desc.Source)
			fmt.Fprintf(out, "command: %s\n", strings.Join(append([]string{desc.Command}, desc.Args...), " "))
			if desc.Dir != "" {
				fmt.Fprintf(out, "dir:     %s\n", desc.Dir)
			}
			return nil
		},
	}
}

func newCacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or prune the backend download cache",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			a := newAcquirer(cfg, setupLogger(cfg.Logging, os.Stderr))
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "root:  %s\n", a.CacheRoot())
			fmt.Fprintf(out, "entry: %s\n", a.CachePath())
			return nil
		},
	}

	var keep string
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove every cached version except --keep",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keep == "" {
				return usageErrorf("--keep is required")
			}
			cfg, _, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			a := newAcquirer(cfg, setupLogger(cfg.Logging, os.Stderr))
			removed, err := a.Prune(keep)
			out := cmd.OutOrStdout()
			for _, dir := range removed {
				statusLine(out, "Removed", dir)
			}
			return err
		},
	}
	prune.Flags().StringVar(&keep, "keep", "", "version to keep, e.g. "+version)
	cmd.AddCommand(prune)
	return cmd
}
