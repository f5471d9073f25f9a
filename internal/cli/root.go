// Package cli wires configuration, logging and the service components into
// the browsermcp commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"browsermcp/internal/buildinfo"
	"browsermcp/internal/config"
	"browsermcp/internal/infra/logging"
)

func Execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:          "browsermcp",
		Short:        "Browser automation tools served over MCP (SSE or stdio)",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $CONFIG_PATH or config.yaml)")

	load := func() (config.Config, error) { return loadConfig(cfgPath) }

	cmd.AddCommand(
		serveCmd(load),
		entrypointCmd(load),
		stdioCmd(load),
		preflightCmd(load),
		smokeCmd(load),
		releaseCheckCmd(load),
		versionCmd(),
	)
	return cmd
}

type configLoader func() (config.Config, error)

// loadConfig turns the loader's panic on invalid values into an error.
func loadConfig(path string) (cfg config.Config, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid configuration: %v", r)
		}
	}()
	if path != "" {
		return config.LoadFrom(path), nil
	}
	return config.Load(), nil
}

func initLogging(cfg config.Config) {
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
}
