package cli

import (
	"os"

	"github.com/spf13/cobra"

	"browsermcp/internal/infra/logging"
	"browsermcp/internal/transport/stdio"
)

func serveCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over HTTP/SSE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			initLogging(cfg)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			svc, err := newService(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			return startServer(ctx, svc.app, cfg, make(chan struct{}), svc.sessions.CloseAll)
		},
	}
}

func stdioCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Run the MCP server over stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			// stdout carries protocol frames; a configured log file still wins
			initLogging(cfg)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			c, err := newCore(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			logging.Info("serving MCP over stdio")
			err = stdio.Serve(ctx, cmd.InOrStdin(), os.Stdout, c.mcp)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}
