// Package api exposes the mailcast HTTP surface: broadcast management, the
// provider webhook and the public unsubscribe flow.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mentorboard/mailcast/internal/broadcast"
	"github.com/mentorboard/mailcast/internal/config"
	"github.com/mentorboard/mailcast/internal/directory"
	"github.com/mentorboard/mailcast/internal/events"
	"github.com/mentorboard/mailcast/internal/metrics"
	"github.com/mentorboard/mailcast/internal/token"
)

// Broadcaster runs the compose-and-send operation.
type Broadcaster interface {
	Broadcast(ctx context.Context, req broadcast.Request) (*broadcast.Receipt, error)
}

// EventProcessor applies provider webhook events.
type EventProcessor interface {
	Process(ctx context.Context, ev events.Event) (events.Outcome, error)
}

// Directory is the recipient store surface the API needs.
type Directory interface {
	List(ctx context.Context, limit, offset int) ([]directory.Recipient, int, error)
	GetByID(ctx context.Context, id string) (*directory.Recipient, error)
	Unsubscribe(ctx context.Context, id string) error
}

// LogReader reads broadcast history.
type LogReader interface {
	List(ctx context.Context, limit, offset int) ([]broadcast.LogEntry, int, error)
	GetByID(ctx context.Context, id string) (*broadcast.LogEntry, error)
}

// ServerOptions bundles the server's dependencies.
type ServerOptions struct {
	Config      *config.ServerConfig
	Logger      *slog.Logger
	Broadcaster Broadcaster
	Processor   EventProcessor
	Directory   Directory
	Logs        LogReader
	Tokens      *token.Codec
	Metrics     *metrics.Metrics
}

// Server is the HTTP API server.
type Server struct {
	router      *chi.Mux
	httpServer  *http.Server
	config      *config.ServerConfig
	logger      *slog.Logger
	broadcaster Broadcaster
	processor   EventProcessor
	directory   Directory
	logs        LogReader
	tokens      *token.Codec
	metrics     *metrics.Metrics
}

// NewServer creates the API server and wires its routes.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		config:      opts.Config,
		logger:      opts.Logger.With("component", "api"),
		broadcaster: opts.Broadcaster,
		processor:   opts.Processor,
		directory:   opts.Directory,
		logs:        opts.Logs,
		tokens:      opts.Tokens,
		metrics:     opts.Metrics,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	if s.metrics != nil {
		s.router.Use(s.metrics.HTTPMiddleware)
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.router.Get("/health", s.handleHealth)

	// Public, token-gated unsubscribe flow.
	s.router.Get("/unsubscribe/verify", s.handleUnsubscribeVerify)
	s.router.Post("/unsubscribe", s.handleUnsubscribe)

	// Provider webhook. Authenticity checking is the deployment's concern
	// (signature header verification at the edge); the handler treats the
	// payload as untrusted either way.
	s.router.Post("/webhooks/email", s.handleWebhook)

	// Management routes.
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/broadcasts", s.handleCreateBroadcast)
		r.Get("/broadcasts", s.handleListBroadcasts)
		r.Get("/broadcasts/{id}", s.handleGetBroadcast)
		r.Get("/recipients", s.handleListRecipients)
	})
}

// Router exposes the configured handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
