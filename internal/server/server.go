// Package server wires the HTTP API together: stores, services, middleware,
// routes, and the background workers (auto-release timer, notification
// dispatcher, realtime hub).
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/echezona/sokopay/internal/config"
	"github.com/echezona/sokopay/internal/dispute"
	"github.com/echezona/sokopay/internal/escrow"
	"github.com/echezona/sokopay/internal/health"
	"github.com/echezona/sokopay/internal/identity"
	"github.com/echezona/sokopay/internal/logging"
	"github.com/echezona/sokopay/internal/metrics"
	"github.com/echezona/sokopay/internal/notify"
	"github.com/echezona/sokopay/internal/paystack"
	"github.com/echezona/sokopay/internal/product"
	"github.com/echezona/sokopay/internal/ratelimit"
	"github.com/echezona/sokopay/internal/realtime"
	"github.com/echezona/sokopay/internal/rewards"
	"github.com/echezona/sokopay/internal/security"
	"github.com/echezona/sokopay/internal/traces"
	"github.com/echezona/sokopay/internal/validation"
	"github.com/echezona/sokopay/internal/wallet"
	"github.com/echezona/sokopay/internal/withdraw"
)

// Server is the main application server
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	router *gin.Engine

	db *sql.DB

	// Domain services
	users       *identity.Service
	ledger      *wallet.Ledger
	catalog     *product.Catalog
	escrowSvc   *escrow.Service
	disputes    *dispute.Service
	rewardsSvc  *rewards.Service
	withdrawals *withdraw.Service

	// Infrastructure
	gateway     *paystack.Client
	dispatcher  *notify.Dispatcher
	notifyStore notify.Store
	hub         *realtime.Hub
	escrowTimer *escrow.Timer
	rateLimiter *ratelimit.Limiter
	checks      *health.Registry

	httpSrv        *http.Server
	cancelRunCtx   context.CancelFunc
	shutdownTraces func(context.Context) error

	healthy atomic.Bool
	ready   atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a fully wired server from configuration.
// With DATABASE_URL set it runs against Postgres; otherwise everything is
// in-memory, which is enough for local development and tests.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		format := "text"
		if cfg.IsProduction() {
			format = "json"
		}
		s.logger = logging.New(cfg.LogLevel, format)
	}

	// Stores: Postgres when configured, in-memory otherwise.
	var (
		identityStore identity.Store
		productStore  product.Store
		escrowStore   escrow.Store
		rewardsStore  rewards.Store
		withdrawStore withdraw.Store
		walletStore   wallet.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		s.db = db
		s.logger.Info("connected to database", "dsn", maskDSN(cfg.DatabaseURL))

		identityStore = identity.NewPostgresStore(db)
		productStore = product.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		rewardsStore = rewards.NewPostgresStore(db)
		withdrawStore = withdraw.NewPostgresStore(db)
		walletStore = wallet.NewPostgresStore(db)
	} else {
		s.logger.Warn("DATABASE_URL not set, using in-memory stores")
		walletMem := wallet.NewMemoryStore()
		productMem := product.NewMemoryStore()

		identityStore = identity.NewMemoryStore()
		productStore = productMem
		escrowStore = escrow.NewMemoryStore(walletMem, productMem)
		rewardsStore = rewards.NewMemoryStore(walletMem)
		withdrawStore = withdraw.NewMemoryStore(walletMem)
		walletStore = walletMem
	}

	// Realtime hub must exist before the dispatcher so notifications can be
	// pushed to connected WebSocket clients as well as persisted.
	s.hub = realtime.NewHub(s.logger)

	s.notifyStore = notify.NewMemoryStore()
	if s.db != nil {
		s.notifyStore = notify.NewPostgresStore(s.db)
	}
	s.dispatcher = notify.NewDispatcher(s.notifyStore, s.logger, s.hub.NotificationSink())

	// Services
	s.ledger = wallet.NewLedger(walletStore)
	s.users = identity.NewService(identityStore, s.ledger, cfg.JWTSecret, cfg.TokenTTL)
	s.catalog = product.NewCatalog(productStore)
	s.gateway = paystack.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecret, cfg.GatewayTimeout)

	s.escrowSvc = escrow.NewService(escrowStore, s.gateway, s.catalog, s.users, s.dispatcher, escrow.Config{
		CommissionBps: int64(cfg.CommissionBps),
		ReleaseAfter:  cfg.ReleaseAfter,
	}, s.logger)

	s.disputes = dispute.NewService(escrowStore, s.dispatcher, int64(cfg.CommissionBps), s.logger)
	s.rewardsSvc = rewards.NewService(rewardsStore, s.users, s.ledger, cfg.AdRewardAmount, cfg.ReferralRewardAmount, s.logger)
	s.withdrawals = withdraw.NewService(withdrawStore, s.dispatcher, cfg.WithdrawMinAmount, s.logger)
	s.escrowTimer = escrow.NewTimer(s.escrowSvc, cfg.SweepInterval, s.logger)

	// Health checks
	s.checks = health.NewRegistry()
	if s.db != nil {
		s.checks.Register("database", health.DBChecker("database", s.db))
	}

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides credentials in a connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func generateRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b[:])
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time order and notification events
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	identityHandler := identity.NewHandler(s.users)
	walletHandler := wallet.NewHandler(s.ledger)
	productHandler := product.NewHandler(s.catalog)
	escrowHandler := escrow.NewHandler(s.escrowSvc)
	disputeHandler := dispute.NewHandler(s.disputes)
	rewardsHandler := rewards.NewHandler(s.rewardsSvc)
	withdrawHandler := withdraw.NewHandler(s.withdrawals)
	notifyHandler := notify.NewHandler(s.notifyStore)
	webhookHandler := paystack.NewWebhookHandler(s.cfg.PaystackSecret, s.escrowSvc)

	v1 := s.router.Group("/v1")

	// PUBLIC ROUTES (no auth required)
	identityHandler.RegisterPublicRoutes(v1) // signup, login
	productHandler.RegisterPublicRoutes(v1)  // browse catalog

	// Gateway webhooks authenticate with an HMAC signature, not a bearer token,
	// so they stay outside the auth group.
	webhookHandler.RegisterRoutes(v1)

	// PROTECTED ROUTES (require a valid token)
	authed := v1.Group("")
	authed.Use(identity.RequireAuth(s.users))
	{
		identityHandler.RegisterRoutes(authed)
		walletHandler.RegisterRoutes(authed)
		productHandler.RegisterRoutes(authed)
		escrowHandler.RegisterRoutes(authed)
		disputeHandler.RegisterRoutes(authed)
		rewardsHandler.RegisterRoutes(authed)
		withdrawHandler.RegisterRoutes(authed)
		notifyHandler.RegisterRoutes(authed)
	}

	// STAFF ROUTES (read-only triage, admin or subadmin)
	staff := v1.Group("")
	staff.Use(identity.RequireAuth(s.users), identity.RequireStaff())
	{
		disputeHandler.RegisterStaffRoutes(staff)
	}

	// ADMIN ROUTES
	admin := v1.Group("")
	admin.Use(identity.RequireAuth(s.users), identity.RequireAdmin())
	{
		identityHandler.RegisterAdminRoutes(admin)
		disputeHandler.RegisterAdminRoutes(admin)
		withdrawHandler.RegisterAdminRoutes(admin)
	}
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Sokopay",
		"description": "Escrow-backed marketplace payments",
		"version":     "0.1.0",
		"currency":    "NGN",
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthyAll, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthyAll {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing is optional; without an OTLP endpoint spans are dropped.
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.shutdownTraces = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Background workers
	go s.hub.Run(runCtx)
	s.dispatcher.Start(runCtx)
	go s.escrowTimer.Start(runCtx)

	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timer, dispatcher)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.escrowTimer.Stop()
	s.logger.Info("auto-release timer stopped")

	// Drain queued notifications before closing the store
	s.dispatcher.Close()
	s.logger.Info("notification dispatcher stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
