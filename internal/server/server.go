package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/exchangechat/internal/api/middleware"
	"github.com/GriffinCanCode/exchangechat/internal/chat"
	"github.com/GriffinCanCode/exchangechat/internal/exchange"
	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/config"
	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/logging"
	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/exchangechat/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/exchangechat/internal/ws"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	config  *config.Config
	logger  *logging.Logger
	router  *gin.Engine
	http    *http.Server
	hub     *chat.Hub
	rates   *exchange.Client
	journal *exchange.Journal
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

// Option configures a Server
type Option func(*Server)

// WithLogger replaces the logger built from the logging config
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.ForLevel(cfg.Logging.Level, cfg.Logging.Development)
	}
	logger := s.logger.Logger

	logger.Info("Initializing exchange chat server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("rates_url", cfg.Exchange.BaseURL),
	)

	// Initialize metrics first (needed by other components)
	s.metrics = monitoring.NewMetrics()
	s.tracer = tracing.New("exchangechat", logger)

	if cfg.Exchange.JournalPath != "" {
		journal, err := exchange.OpenJournal(cfg.Exchange.JournalPath)
		if err != nil {
			s.tracer.Close()
			return nil, fmt.Errorf("failed to open exchange journal: %w", err)
		}
		s.journal = journal
		logger.Info("Exchange journal opened", zap.String("path", cfg.Exchange.JournalPath))
	}

	clientCfg := exchange.DefaultClientConfig()
	clientCfg.BaseURL = cfg.Exchange.BaseURL
	clientCfg.Timeout = cfg.Exchange.Timeout
	clientCfg.Retries = cfg.Exchange.Retries
	clientCfg.RequestsPerSecond = cfg.Exchange.RequestsPerSecond
	clientCfg.BreakerFailures = cfg.Exchange.BreakerFailures
	clientCfg.BreakerTimeout = cfg.Exchange.BreakerTimeout
	s.rates = exchange.NewClient(clientCfg,
		exchange.WithClientLogger(logger.Named("privatbank")),
		exchange.WithClientMetrics(s.metrics),
	)

	service := exchange.NewService(s.rates,
		exchange.WithJournal(s.journal),
		exchange.WithCacheTTL(cfg.Exchange.CacheTTL),
		exchange.WithFetchTimeout(cfg.Exchange.Timeout*time.Duration(cfg.Exchange.Retries+1)),
		exchange.WithCurrencies(cfg.Exchange.Currencies...),
		exchange.WithMaxDays(cfg.Exchange.MaxHistoryDays),
		exchange.WithConcurrency(cfg.Exchange.HistoryConcurrency),
		exchange.WithLogger(logger.Named("exchange")),
		exchange.WithMetrics(s.metrics),
	)

	s.hub = chat.NewHub(
		chat.WithBuffer(cfg.WebSocket.SendBuffer),
		chat.WithLogger(logger.Named("hub")),
	)

	wsHandler := ws.NewHandler(s.hub, service, ws.Config{
		MessagesPerSecond: cfg.WebSocket.MessagesPerSecond,
		Burst:             cfg.WebSocket.Burst,
		WriteTimeout:      cfg.WebSocket.WriteTimeout,
		MaxMessageBytes:   cfg.WebSocket.MaxMessageBytes,
		CommandTimeout:    cfg.WebSocket.CommandTimeout,
	},
		ws.WithLogger(logger.Named("ws")),
		ws.WithMetrics(s.metrics),
		ws.WithTracer(s.tracer),
	)

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins...))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	// Register routes
	router.GET("/", wsHandler.HandleConnection)
	router.GET("/ws", wsHandler.HandleConnection)
	router.GET("/health", s.health)
	router.GET("/metrics", s.metrics.GinHandler())

	s.router = router
	s.http = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

// Handler returns the router, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the chat hub
func (s *Server) Hub() *chat.Hub {
	return s.hub
}

// Run starts the HTTP server and blocks until it stops. A stop caused by
// Shutdown is not an error.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server and releases its resources. Open
// WebSocket connections are hijacked and end with the process.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
	}
	s.tracer.Close()
	if err := s.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close exchange journal: %w", err))
	}

	// Sync logger before exit
	_ = s.logger.Sync()

	return errors.Join(errs...)
}

type healthResponse struct {
	Status  string              `json:"status"`
	Clients int                 `json:"clients"`
	Breaker string              `json:"breaker"`
	Metrics monitoring.Snapshot `json:"metrics"`
}

func (s *Server) health(c *gin.Context) {
	breaker := s.rates.BreakerState()
	status := "healthy"
	if breaker == resilience.StateOpen {
		status = "degraded"
	}

	c.JSON(http.StatusOK, healthResponse{
		Status:  status,
		Clients: s.hub.Count(),
		Breaker: breaker.String(),
		Metrics: s.metrics.Snapshot(),
	})
}
