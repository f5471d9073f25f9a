package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"

	"browsermcp/internal/buildinfo"
	"browsermcp/internal/config"
	"browsermcp/internal/http/server"
	"browsermcp/internal/infra/chrome"
	"browsermcp/internal/infra/logging"
	"browsermcp/internal/infra/postgres"
	"browsermcp/internal/infra/sessionstore"
	"browsermcp/internal/mcp"
	"browsermcp/internal/tokens"
	"browsermcp/internal/tools"
	"browsermcp/internal/transport/sse"
)

// core is what every transport needs: the browser and the MCP server.
type core struct {
	cfg     config.Config
	browser *chrome.Manager
	mcp     *mcp.Server
}

func newCore(ctx context.Context, cfg config.Config) (*core, error) {
	browser, err := chrome.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("browser manager: %w", err)
	}
	go browser.RunReaper(ctx)

	reg := mcp.NewRegistry()
	if err := tools.Register(reg, browser, cfg.Mounts.DownloadsDir); err != nil {
		browser.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}
	logging.Info("tools registered", "count", reg.Len())

	return &core{
		cfg:     cfg,
		browser: browser,
		mcp:     mcp.NewServer(cfg.Server.Name, buildinfo.Version, reg),
	}, nil
}

func (c *core) Close() {
	c.browser.Close()
}

// service is the SSE server with its stores.
type service struct {
	*core
	app      *fiber.App
	sessions *sse.Registry
	store    sessionstore.Store
	closers  []func() error
}

func newService(ctx context.Context, cfg config.Config) (*service, error) {
	c, err := newCore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &service{
		core: c,
		sessions: sse.NewRegistry(sse.Options{
			QueueSize:         cfg.Session.QueueSize,
			EnqueueTimeout:    cfg.Session.EnqueueTimeout,
			KeepaliveInterval: cfg.Session.KeepaliveInterval,
		}),
		store: sessionstore.New(cfg),
	}
	s.closers = append(s.closers, s.store.Close)

	var cache *tokens.Cache
	if cfg.Auth.Enabled() {
		repo, err := postgres.NewTokenRepository(cfg.Auth.Postgres)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("token repository: %w", err)
		}
		s.closers = append(s.closers, repo.Close)

		cache = tokens.NewCache()
		reloader := tokens.NewReloader(repo, cache, cfg.Auth.ReloadInterval)
		if err := reloader.LoadOnce(ctx); err != nil {
			logging.Error("Failed to load API tokens", "error", err)
		}
		reloader.Start(ctx)
	}

	s.app = server.New(server.Deps{
		Config:   cfg,
		Sessions: s.sessions,
		MCP:      s.mcp,
		Store:    s.store,
		Browser:  s.browser,
		Tokens:   cache,
		Version:  buildinfo.Version,
		BaseCtx:  ctx,
	})
	return s, nil
}

func (s *service) Close() {
	s.sessions.CloseAll()
	s.core.Close()
	for _, fn := range s.closers {
		if err := fn(); err != nil {
			logging.Warn("close failed", "error", err)
		}
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// startServer listens until ctx ends, then runs beforeShutdown, shuts the app
// down within the configured timeout and closes idleConnsClosed.
func startServer(ctx context.Context, app *fiber.App, cfg config.Config, idleConnsClosed chan struct{}, beforeShutdown ...func()) error {
	defer close(idleConnsClosed)

	errCh := make(chan error, 1)
	go func() {
		logging.Info("server listening", "addr", cfg.Addr())
		errCh <- app.Listen(cfg.Addr())
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logging.Error("Server error", "error", err)
			return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Warn("Shutdown signal received, closing server...")
	for _, fn := range beforeShutdown {
		fn()
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(sctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}
	logging.Info("Server stopped cleanly")
	return nil
}
