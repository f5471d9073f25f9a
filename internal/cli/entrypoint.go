package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"browsermcp/internal/config"
	"browsermcp/internal/display"
	"browsermcp/internal/infra/logging"
	"browsermcp/internal/preflight"
)

const displaySocketTimeout = 10 * time.Second

func preflightCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check mounts and LLM keys, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			initLogging(cfg)
			if err := preflight.Run(cfg); err != nil {
				logging.Error("preflight failed", "error", err)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "preflight ok")
			return nil
		},
	}
}

func entrypointCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "entrypoint",
		Short: "Container start: preflight, privilege drop, display, server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			initLogging(cfg)

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runEntrypoint(ctx, cfg)
		},
	}
}

// ownedPaths are the directories handed to PUID:PGID before dropping root.
func ownedPaths(cfg config.Config) []string {
	paths := []string{cfg.Mounts.DataDir, cfg.Mounts.DownloadsDir}
	// profiles default to data_dir/profiles, which the walk already covers
	if cfg.Browser.UserDataDir != "" {
		paths = append(paths, cfg.Browser.UserDataDir)
	}
	return paths
}

func runEntrypoint(ctx context.Context, cfg config.Config) error {
	if err := preflight.Run(cfg); err != nil {
		logging.Error("preflight failed", "error", err)
		return err
	}
	if _, err := preflight.DropPrivileges(cfg.Mounts.PUID, cfg.Mounts.PGID, ownedPaths(cfg)...); err != nil {
		logging.Error("dropping privileges failed", "error", err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if !cfg.Browser.Headless {
		stack := display.NewStack(cfg.Display)
		if err := stack.Start(gctx, displaySocketTimeout); err != nil {
			return err
		}
		defer stack.Stop()
		logging.Info("display ready", "display", cfg.Display.Display, "vnc", cfg.Display.EnableVNC)

		for _, sup := range stack.Supervisors() {
			g.Go(func() error {
				err := sup.Wait()
				if gctx.Err() != nil {
					return nil
				}
				if err == nil {
					err = fmt.Errorf("%s exited unexpectedly", sup.Name)
				}
				logging.Error("display process failed", "name", sup.Name, "error", err)
				return err
			})
		}
	}

	svc, err := newService(gctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	g.Go(func() error {
		return startServer(gctx, svc.app, cfg, make(chan struct{}), svc.sessions.CloseAll)
	})
	return g.Wait()
}
