package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/config"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/http/middleware"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

// Server represents the HTTP server.
type Server struct {
	config      config.ServerConfig
	roles       []string
	handler     *Handler
	middlewares middleware.Middleware
	srv         *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *config.Config,
	handler *Handler,
	middlewares middleware.Middleware,
) *Server {
	return &Server{
		config:      cfg.Server,
		roles:       cfg.Observer.Roles,
		handler:     handler,
		middlewares: middlewares,
		srv:         nil,
	}
}

// Routes returns the routed handler wrapped in the middleware chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	privileged := middleware.RequirePrivileged(s.roles)

	mux.HandleFunc("POST /v1/chat/stream", middleware.RequireUser(s.handler.HandleChatStream))

	mux.HandleFunc("GET /v1/observe", privileged(s.handler.HandleListObservable))
	mux.HandleFunc("GET /v1/observe/{sessionId}", privileged(s.handler.HandleObserve))
	mux.HandleFunc("GET /v1/observe/{sessionId}/ws", privileged(s.handler.HandleObserveWebSocket))

	if s.handler.ServesAccounting() {
		mux.HandleFunc("POST /streaming-sessions/initialize", middleware.RequireUser(s.handler.HandleInitialize))
		mux.HandleFunc("POST /streaming-sessions/finalize", middleware.RequireUser(s.handler.HandleFinalize))
		mux.HandleFunc("POST /streaming-sessions/abort", middleware.RequireUser(s.handler.HandleAbort))
		mux.HandleFunc("POST /usage/record", middleware.RequireUser(s.handler.HandleRecordUsage))
		mux.HandleFunc("GET /credits/balance", middleware.RequireUser(s.handler.HandleBalance))
		mux.HandleFunc("POST /credits/allocate", privileged(s.handler.HandleAllocate))
	}

	mux.HandleFunc("GET /health", s.handler.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.middlewares(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	// Only headers are bounded by the read timeout; a whole-request deadline
	// would outlive the hijack and cut websocket observers off.
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
	}

	ctx := context.Background()
	observability.FromContext(ctx).Info("starting HTTP server", observability.Int("port", s.config.Port))

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	observability.FromContext(ctx).Info("shutting down HTTP server")

	if s.srv == nil {
		return nil
	}

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
