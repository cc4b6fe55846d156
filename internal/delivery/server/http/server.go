// Package http exposes the negotiator over a JSON API and a websocket
// stream.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"smartsched/internal/app/negotiator"
	"smartsched/internal/async"
	"smartsched/internal/config"
	"smartsched/internal/delivery/presentation/formatter"
	"smartsched/internal/domain/negotiation"
	schederrors "smartsched/internal/errors"
	"smartsched/internal/logging"
	"smartsched/internal/observability"
)

// Deps are the collaborators the server routes to.
type Deps struct {
	Service   *negotiator.Service
	Formatter *formatter.Formatter
	// Calendar backs the availability endpoint; nil disables it.
	Calendar negotiation.CalendarReader
	// Breaker is reported by /health and closed by
	// POST /api/calendar/breaker/reset when set.
	Breaker *schederrors.CircuitBreaker
	Metrics *observability.MetricsCollector
	Tracer  *observability.TracerProvider
	Logger  logging.Logger
	Version string
	// MaxAvailabilityRange bounds GET /api/availability.
	MaxAvailabilityRange time.Duration
}

// Server is the HTTP delivery surface.
type Server struct {
	cfg        config.ServerConfig
	deps       Deps
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	streams    *streamRegistry
	logger     logging.Logger
	startTime  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer wires routes and middleware.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Formatter == nil {
		deps.Formatter = formatter.New(nil)
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	if deps.MaxAvailabilityRange <= 0 {
		deps.MaxAvailabilityRange = 31 * 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		streams:   newStreamRegistry(),
		logger:    logging.OrNop(deps.Logger),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 || containsWildcard(cfg.AllowedOrigins) {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", requestIDHeader}
	corsConfig.ExposeHeaders = []string{requestIDHeader}
	corsConfig.AllowWebSockets = true

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(corsConfig))
	engine.Use(requestLogger(s.logger))
	s.engine = engine
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	api := s.engine.Group("/api", tracing(s.deps.Tracer))
	{
		api.POST("/sessions/:id/turns", s.handleTurn)
		api.GET("/sessions/:id", s.handleGetSession)
		api.DELETE("/sessions/:id", s.handleClearSession)
		api.GET("/sessions/:id/stream", s.handleStream)
		api.GET("/availability", s.handleAvailability)
		api.POST("/calendar/breaker/reset", s.handleBreakerReset)
	}
}

// Handler returns the routed engine, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("smartsched listening on %s", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown closes open streams and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.streams.closeAll()
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	async.Go(s.logger, "server.drain", func() {
		s.wg.Wait()
		close(done)
	})
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("smartsched server stopped")
	return nil
}

// turnContext bounds one turn by the configured timeout.
func (s *Server) turnContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.TurnTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.cfg.TurnTimeout)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 || containsWildcard(s.cfg.AllowedOrigins) {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
