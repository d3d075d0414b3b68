// Package server sets up the HTTP server with all routes
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
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/sovereign/internal/approval"
	"github.com/mbd888/sovereign/internal/audit"
	"github.com/mbd888/sovereign/internal/authority"
	"github.com/mbd888/sovereign/internal/circuitbreaker"
	"github.com/mbd888/sovereign/internal/config"
	"github.com/mbd888/sovereign/internal/executor"
	"github.com/mbd888/sovereign/internal/health"
	"github.com/mbd888/sovereign/internal/logging"
	"github.com/mbd888/sovereign/internal/metrics"
	"github.com/mbd888/sovereign/internal/notify"
	"github.com/mbd888/sovereign/internal/ratelimit"
	"github.com/mbd888/sovereign/internal/realtime"
	"github.com/mbd888/sovereign/internal/review"
	"github.com/mbd888/sovereign/internal/security"
	"github.com/mbd888/sovereign/internal/validation"
)

// Authority breaker tuning.
const (
	breakerThreshold = 5
	breakerOpenFor   = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and the control plane components
type Server struct {
	cfg          *config.Config
	auditLogger  *audit.Logger
	engine       *approval.Engine
	policy       *authority.Policy
	queue        *review.Queue
	archiveTimer *review.Timer
	dispatcher   *notify.Dispatcher
	notifyLog    notify.Log
	executor     *executor.Executor
	bodies       *executor.Registry
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	db           *sql.DB       // nil if using in-memory
	redis        *redis.Client // nil if using in-memory review store
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRegistry supplies the operation bodies run by /v1/operations/execute.
func WithRegistry(r *executor.Registry) Option {
	return func(s *Server) {
		s.bodies = r
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		health: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.bodies == nil {
		s.bodies = executor.NewRegistry()
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	auditStore, err := s.openStorage()
	if err != nil {
		return nil, err
	}

	reviewStore, err := s.openReviewStore()
	if err != nil {
		s.closeStores()
		return nil, err
	}

	s.realtimeHub = realtime.NewHub(s.logger)

	// Notifications: configured provider with console fallback
	primary, err := s.primaryChannel()
	if err != nil {
		s.closeStores()
		return nil, err
	}
	s.dispatcher = notify.NewDispatcher(primary, s.notifyLog, s.logger).
		WithRecipient(cfg.SovereignEmail).
		WithTimeout(cfg.NotifyTimeout).
		WithFeed(s.realtimeHub)

	// Manual approval queue and its archival sweep
	s.queue = review.NewQueue(reviewStore, s.logger).
		WithNotifier(s.dispatcher).
		WithNotificationLog(s.notifyLog).
		WithFeed(s.realtimeHub)
	s.archiveTimer = review.NewTimer(s.queue, cfg.ArchiveRetentionDays, cfg.ArchiveInterval, s.logger)

	// Authority: external endpoint if configured, otherwise the reference policy in process
	s.policy = authority.NewPolicy(cfg.Thresholds, s.queue, s.logger)
	var auth approval.Authority = s.policy
	if cfg.AuthorityURL != "" {
		auth = approval.NewHTTPAuthority(cfg.AuthorityURL)
		s.logger.Info("approval authority configured", "url", cfg.AuthorityURL)
	} else {
		s.logger.Info("approval authority running in process")
	}

	breaker := circuitbreaker.New(breakerThreshold, breakerOpenFor)
	breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		s.logger.Warn("authority circuit changed", "key", key, "from", from.String(), "to", to.String())
	})

	s.engine = approval.NewEngine(auth, s.logger).
		WithNotifier(s.dispatcher).
		WithFeed(s.realtimeHub).
		WithBreaker(breaker).
		WithThresholds(cfg.Thresholds).
		WithCriticalTypes(cfg.CriticalOperations).
		WithTimeout(cfg.ApprovalTimeout).
		WithDomain(cfg.Domain)
	if !cfg.ApprovalEnabled {
		s.engine.WithDisabled()
		s.logger.Warn("approval disabled: every operation is auto-approved")
	}

	// Forensic logger
	auditOpts := []audit.Option{
		audit.WithDatabase(cfg.DatabaseName),
		audit.WithThresholds(cfg.Thresholds),
		audit.WithLogger(s.logger),
	}
	if !cfg.AuditEnabled {
		auditOpts = append(auditOpts, audit.WithDisabled())
	}
	s.auditLogger = audit.NewLogger(auditStore, cfg.Domain, auditOpts...)

	s.executor = executor.New(s.auditLogger, s.engine, s.logger)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// openStorage connects Postgres when configured and returns the audit
// store to use. The notification log is chosen alongside it.
func (s *Server) openStorage() (audit.Store, error) {
	if s.cfg.DatabaseURL == "" {
		s.notifyLog = notify.NewMemoryLog()
		s.logger.Info("using in-memory storage (data will not persist)")
		return audit.NewMemoryStore(), nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	s.notifyLog = notify.NewPostgresLog(db)
	s.health.Register("database", health.Database(db))
	s.logger.Info("connected to PostgreSQL", "dsn", maskDSN(s.cfg.DatabaseURL))
	return audit.NewPostgresStore(db), nil
}

func (s *Server) openReviewStore() (review.Store, error) {
	if s.cfg.RedisURL == "" {
		return review.NewMemoryStore(), nil
	}

	opts, err := redis.ParseURL(s.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s.redis = client
	s.health.Register("redis", health.Redis(client))
	s.logger.Info("review queue backed by redis", "addr", opts.Addr)
	return review.NewRedisStore(client), nil
}

func (s *Server) primaryChannel() (notify.Channel, error) {
	if s.cfg.NotifyProvider == "webhook" && s.cfg.WebhookURL != "" && !s.cfg.IsDevelopment() {
		if err := security.ValidateOutboundURL(s.cfg.WebhookURL, false); err != nil {
			return nil, fmt.Errorf("invalid NOTIFY_WEBHOOK_URL: %w", err)
		}
	}

	ch, warning := notify.NewChannel(notify.ProviderConfig{
		Provider: s.cfg.NotifyProvider,
		SMTP: notify.SMTPConfig{
			Host:     s.cfg.SMTPHost,
			Port:     s.cfg.SMTPPort,
			Username: s.cfg.SMTPUsername,
			Password: s.cfg.SMTPPassword,
			From:     s.cfg.SMTPFrom,
		},
		WebhookURL:    s.cfg.WebhookURL,
		WebhookSecret: s.cfg.WebhookSecret,
		KafkaBrokers:  s.cfg.KafkaBrokers,
		KafkaTopic:    s.cfg.KafkaTopic,
	}, s.realtimeHub, s.logger)
	if warning != "" {
		s.logger.Warn("notification provider degraded to console", "reason", warning)
	}
	return ch, nil
}

func (s *Server) closeStores() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// maskDSN hides password in connection string for logging
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware(!s.cfg.IsDevelopment()))
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
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
		if cid := c.GetHeader("X-Correlation-ID"); cid != "" {
			ctx = logging.WithCorrelationID(ctx, cid)
		}
		ctx = logging.WithDomain(ctx, s.cfg.Domain)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
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
			logger.Debug("request completed",
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

	v1 := s.router.Group("/v1")
	v1.GET("/info", s.infoHandler)

	// The reference authority is called by engines, not operators
	if s.cfg.AuthorityEnabled {
		authority.NewHandler(s.policy).RegisterRoutes(v1)
	}

	admin := v1.Group("")
	admin.Use(security.RequireAdmin(s.cfg.AdminSecret))

	audit.NewHandler(s.auditLogger).RegisterRoutes(admin)
	review.NewHandler(s.queue).RegisterRoutes(admin)
	executor.NewHandler(s.executor, s.bodies, s.cfg.Domain).RegisterRoutes(admin)
	notify.NewHandler(s.notifyLog, s.realtimeHub.HandleWebSocket).RegisterRoutes(admin)
	admin.GET("/feed/stats", s.feedStatsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// Version is reported by /health and /v1/info.
const Version = "0.1.0"

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":            Version,
		"domain":             s.cfg.Domain,
		"auditEnabled":       s.auditLogger.Enabled(),
		"approvalEnabled":    s.cfg.ApprovalEnabled,
		"externalAuthority":  s.cfg.AuthorityURL != "",
		"thresholds":         s.cfg.Thresholds,
		"criticalOperations": s.cfg.CriticalOperations.Sorted(),
		"operationTypes":     s.bodies.Types(),
	})
}

func (s *Server) feedStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background workers, and blocks until a
// shutdown signal, context cancellation, or a fatal server error.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		s.logger.Info("starting server", "port", s.cfg.Port, "domain", s.cfg.Domain)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.realtimeHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		s.archiveTimer.Start(gctx)
		return nil
	})

	if s.db != nil {
		go metrics.StartDBStatsCollector(gctx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-gctx.Done():
		s.logger.Info("context cancelled")
	}

	shutdownErr := s.Shutdown()
	if err := g.Wait(); err != nil {
		return err
	}
	return shutdownErr
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	if !s.cfg.IsDevelopment() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.archiveTimer != nil {
		s.archiveTimer.Stop()
		s.logger.Info("archive timer stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if err := s.dispatcher.Close(); err != nil {
		s.logger.Error("notification channel close error", "error", err)
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
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

// Executor returns the controlled executor so embedding code can wrap its
// own operations.
func (s *Server) Executor() *executor.Executor {
	return s.executor
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
