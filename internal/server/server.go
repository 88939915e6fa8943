// Package server wires the inventory handlers into the API and probe
// HTTP servers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/inventory-tracker/internal/auth"
	"github.com/vyrodovalexey/inventory-tracker/internal/config"
	"github.com/vyrodovalexey/inventory-tracker/internal/handler"
	"github.com/vyrodovalexey/inventory-tracker/internal/inventory"
	"github.com/vyrodovalexey/inventory-tracker/internal/middleware"
	"github.com/vyrodovalexey/inventory-tracker/internal/search"
	"github.com/vyrodovalexey/inventory-tracker/internal/store"
)

// Deps are the long-lived components the routes serve.
type Deps struct {
	Live     *store.Live
	Registry *inventory.Registry
	// Authenticator guards writes; nil leaves the API open.
	Authenticator auth.Authenticator
}

// Server runs the API server and, when a probe port is set, a separate
// probe server.
type Server struct {
	httpServer  *http.Server
	probeServer *http.Server
	router      *mux.Router
	config      *config.Config
	logger      *zap.Logger
	wsHandler   *handler.WebSocketHandler
}

// New creates a new Server instance.
func New(cfg *config.Config, logger *zap.Logger, deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		config: cfg,
		logger: logger,
	}

	s.setupMiddleware(deps.Authenticator)
	s.setupRoutes(deps)
	s.httpServer = newHTTPServer(cfg.Address(), s.router)

	if cfg.ProbePort != 0 {
		probeRouter := mux.NewRouter()
		handler.NewProbeHandler(deps.Live, logger).RegisterRoutes(probeRouter)
		s.probeServer = newHTTPServer(cfg.ProbeAddress(), probeRouter)
	}

	return s
}

// setupMiddleware applies the chain outermost first. Logging runs inside
// Auth so that it sees the caller.
func (s *Server) setupMiddleware(authenticator auth.Authenticator) {
	methods := []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodDelete,
		http.MethodOptions,
	}
	headers := []string{
		"Content-Type",
		"Authorization",
		auth.APIKeyHeader,
		middleware.RequestIDHeader,
	}

	s.router.Use(mux.MiddlewareFunc(middleware.Recovery(s.logger)))
	s.router.Use(mux.MiddlewareFunc(middleware.RequestID()))

	if s.config.MetricsEnabled {
		s.router.Use(mux.MiddlewareFunc(middleware.Metrics()))
	}

	s.router.Use(mux.MiddlewareFunc(middleware.CORS(s.config.CORSOrigins, methods, headers)))

	if authenticator != nil {
		s.router.Use(mux.MiddlewareFunc(middleware.Auth(authenticator, s.logger)))
	}

	s.router.Use(mux.MiddlewareFunc(middleware.Logging(s.logger)))
}

func (s *Server) setupRoutes(deps Deps) {
	handler.NewRESTHandler(deps.Live, deps.Registry, s.logger).RegisterRoutes(s.router)

	searchOpts := search.Options{
		Debounce: s.config.SearchDebounce,
		Grace:    s.config.SearchGrace,
	}
	s.wsHandler = handler.NewWebSocketHandler(deps.Live, deps.Registry, searchOpts, s.logger)
	s.wsHandler.RegisterRoutes(s.router)

	if s.config.MetricsEnabled {
		s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// Start serves the API until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		zap.String("address", s.config.Address()),
		zap.Bool("metrics_enabled", s.config.MetricsEnabled),
	)

	return listen(s.httpServer)
}

// StartProbe serves /healthz and /readyz until Shutdown. It returns at
// once when the probe server is disabled.
func (s *Server) StartProbe() error {
	if s.probeServer == nil {
		return nil
	}

	s.logger.Info("starting probe server", zap.String("address", s.config.ProbeAddress()))

	return listen(s.probeServer)
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server listen and serve: %w", err)
	}
	return nil
}

// Shutdown closes WebSocket streams, then drains both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.wsHandler.CloseAllConnections()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if s.probeServer != nil {
		if err := s.probeServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("probe server shutdown: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Router returns the server's router for testing purposes.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ProbeHandler returns the probe server's handler, or nil when disabled.
func (s *Server) ProbeHandler() http.Handler {
	if s.probeServer == nil {
		return nil
	}
	return s.probeServer.Handler
}
