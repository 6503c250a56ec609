package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/resource/config"
	"example.com/backstage/services/resource/internal/clock"
	"example.com/backstage/services/resource/internal/metrics"
	"example.com/backstage/services/resource/internal/tracing"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server is the HTTP server for the API
type Server struct {
	cfg             config.Config
	router          *gin.Engine
	httpServer      *http.Server
	resourceHandler *ResourceHandler
	metrics         *metrics.Metrics
	tracer          *tracing.Tracer
	db              Pinger
	clock           clock.Clock
}

// NewServer creates a new API server. db, m and tracer may be nil.
func NewServer(cfg config.Config, svc ResourceService, db Pinger, clk clock.Clock, m *metrics.Metrics, tracer *tracing.Tracer) *Server {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true

	server := &Server{
		cfg:             cfg,
		router:          router,
		resourceHandler: NewResourceHandler(svc, clk),
		metrics:         m,
		tracer:          tracer,
		db:              db,
		clock:           clk,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware())

	if s.cfg.Server.CorsEnabled {
		s.router.Use(CORSMiddleware())
	}

	s.router.Use(RecoveryMiddleware(s.clock))

	if app := s.tracer.Application(); app != nil {
		s.router.Use(nrgin.Middleware(app))
	}

	if s.metrics != nil {
		s.router.Use(MetricsMiddleware(s.metrics))
	}

	s.router.Use(LoggingMiddleware())
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)

	if s.metrics != nil && s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	s.resourceHandler.Register(v1.Group("/resources"))

	s.router.NoMethod(func(c *gin.Context) {
		WriteError(c, s.clock, NewError(http.StatusMethodNotAllowed, "Request method '%s' is not supported", c.Request.Method))
	})
	s.router.NoRoute(func(c *gin.Context) {
		WriteError(c, s.clock, NewError(http.StatusNotFound, "No endpoint %s %s", c.Request.Method, c.Request.URL.Path))
	})
}

func (s *Server) health(c *gin.Context) {
	status := gin.H{"status": "UP"}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "database": "DOWN"})
			return
		}
		status["database"] = "UP"
	}
	c.JSON(http.StatusOK, status)
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Address,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	log.Info().Msgf("HTTP server starting on %s", s.cfg.Server.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
