// Package app wires configuration, storage, dispatch and the HTTP server
// into a runnable mailcast instance.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	bolt "go.etcd.io/bbolt"

	"github.com/mentorboard/mailcast/internal/api"
	"github.com/mentorboard/mailcast/internal/broadcast"
	"github.com/mentorboard/mailcast/internal/config"
	"github.com/mentorboard/mailcast/internal/directory"
	"github.com/mentorboard/mailcast/internal/dispatch"
	"github.com/mentorboard/mailcast/internal/events"
	"github.com/mentorboard/mailcast/internal/metrics"
	"github.com/mentorboard/mailcast/internal/provider"
	"github.com/mentorboard/mailcast/internal/sandbox"
	"github.com/mentorboard/mailcast/internal/store"
	"github.com/mentorboard/mailcast/internal/token"
)

// App is the main application.
type App struct {
	config       *config.Config
	logger       *slog.Logger
	pool         *pgxpool.Pool
	sandboxDB    *bolt.DB
	orchestrator *broadcast.Orchestrator
	processor    *events.Processor
	apiServer    *api.Server
}

// New builds the application from configuration. The caller owns the
// returned App and must Close it.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	pool, err := store.NewPool(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	recipients := directory.NewStore(pool)
	logs := broadcast.NewStore(pool)

	a := &App{
		config: cfg,
		logger: logger,
		pool:   pool,
	}

	// With a provider key the real client is used. Without one every send
	// is captured into the local sandbox store instead.
	var sender dispatch.Sender
	if cfg.Provider.APIKey != "" {
		sender = provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey)
	} else {
		db, err := bolt.Open(cfg.Sandbox.Path, 0600, &bolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to open sandbox storage: %w", err)
		}
		storage, err := sandbox.NewStorage(db)
		if err != nil {
			db.Close()
			pool.Close()
			return nil, fmt.Errorf("failed to create sandbox storage: %w", err)
		}
		a.sandboxDB = db
		sender = sandbox.NewSender(storage, logger.With("component", "sandbox"))
		logger.Warn("no provider API key configured, capturing sends to sandbox", "path", cfg.Sandbox.Path)
	}

	dispatcher := dispatch.New(sender, logger.With("component", "dispatch"))

	a.orchestrator = broadcast.NewOrchestrator(
		recipients,
		dispatcher,
		logs,
		logger,
		cfg.Broadcast.FromAddress,
		cfg.Broadcast.UnsubscribeURL,
	)
	a.processor = events.NewProcessor(logs, logger.With("component", "events"))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	a.apiServer = api.NewServer(api.ServerOptions{
		Config:      &cfg.Server,
		Logger:      logger.With("component", "api"),
		Broadcaster: a.orchestrator,
		Processor:   a.processor,
		Directory:   recipients,
		Logs:        logs,
		Tokens:      token.NewCodec(),
		Metrics:     m,
	})

	return a, nil
}

// Orchestrator exposes the broadcast entry point for the CLI.
func (a *App) Orchestrator() *broadcast.Orchestrator {
	return a.orchestrator
}

// Run starts the HTTP server and blocks until a signal or a server error.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting mailcast", "api_addr", a.config.Server.ListenAddr)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully stops the HTTP server and closes storage.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	a.Close()
	a.logger.Info("shutdown complete")
	return nil
}

// Close releases storage handles. Safe to call after Shutdown.
func (a *App) Close() {
	if a.sandboxDB != nil {
		if err := a.sandboxDB.Close(); err != nil {
			a.logger.Error("sandbox storage close error", "error", err)
		}
		a.sandboxDB = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// setupLogger creates a logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
