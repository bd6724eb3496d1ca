// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/fraudgate/internal/circuitbreaker"
	"github.com/mbd888/fraudgate/internal/classifier"
	"github.com/mbd888/fraudgate/internal/config"
	"github.com/mbd888/fraudgate/internal/events"
	"github.com/mbd888/fraudgate/internal/features"
	"github.com/mbd888/fraudgate/internal/fraud"
	"github.com/mbd888/fraudgate/internal/health"
	"github.com/mbd888/fraudgate/internal/idgen"
	"github.com/mbd888/fraudgate/internal/logging"
	"github.com/mbd888/fraudgate/internal/metrics"
	"github.com/mbd888/fraudgate/internal/ratelimit"
	"github.com/mbd888/fraudgate/internal/realtime"
	"github.com/mbd888/fraudgate/internal/retry"
	"github.com/mbd888/fraudgate/internal/security"
	"github.com/mbd888/fraudgate/internal/validation"
)

// Sink names used in logs, metrics and the circuit breaker.
const (
	sinkRealtime = "realtime"
	sinkKafka    = "kafka"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	version      string
	service      *fraud.Service
	trainOpts    []classifier.Option
	realtimeHub  *realtime.Hub
	kafka        *events.KafkaPublisher
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	db           *sql.DB       // nil if using in-memory
	redis        *redis.Client // nil without REDIS_URL
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	drainDelay   time.Duration
	closeOnce    sync.Once

	// Health state
	listening atomic.Bool
	healthy   atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithTrainingOptions passes extra options to the start-up training run.
func WithTrainingOptions(opts ...classifier.Option) Option {
	return func(s *Server) {
		s.trainOpts = append(s.trainOpts, opts...)
	}
}

// New creates a new server instance. It connects the configured sinks but
// does not train the model; call Train before Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}
	ctx = logging.WithLogger(ctx, s.logger)

	// Audit store (Postgres if DATABASE_URL set, otherwise in-memory)
	var store fraud.Store
	if cfg.DatabaseURL != "" {
		pg, err := s.openDatabase(ctx)
		if err != nil {
			return nil, err
		}
		store = pg
	} else {
		s.logger.Info("using in-memory assessment store (set DATABASE_URL for persistence)")
	}

	// Rate limiting, shared through Redis when configured
	limiterOpts := []ratelimit.Option{ratelimit.WithLogger(s.logger)}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(redisOpts)
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.logger.Warn("redis unreachable, rate limits fall back to local buckets", "error", err)
		}
		limiterOpts = append(limiterOpts, ratelimit.WithRedis(s.redis))
		s.health.Register("redis", health.Redis(s.redis))
		s.logger.Info("shared rate limiting enabled", "redis", maskDSN(cfg.RedisURL))
	}
	limits := ratelimit.DefaultConfig()
	limits.RequestsPerMinute = cfg.RateLimitRPM
	limits.BurstSize = cfg.RateLimitBurst
	s.rateLimiter = ratelimit.New(limits, limiterOpts...)

	// Decision sinks
	s.realtimeHub = realtime.NewHub(s.logger)
	serviceOpts := []fraud.Option{
		fraud.WithExtractor(features.NewExtractor(features.WithLocation(cfg.Location()))),
		fraud.WithLogger(s.logger),
		fraud.WithBreaker(s.newBreaker()),
		fraud.WithPublisher(sinkRealtime, s.realtimeHub),
	}
	if cfg.KafkaBrokers != "" {
		k, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, s.logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		s.kafka = k
		serviceOpts = append(serviceOpts, fraud.WithPublisher(sinkKafka, k))
		s.logger.Info("decision events enabled", "brokers", cfg.Brokers(), "topic", cfg.KafkaTopic)
	}

	var trainOpts []classifier.Option
	if cfg.ModelSeed != 0 {
		trainOpts = append(trainOpts, classifier.WithSeed(cfg.ModelSeed))
	}
	trainOpts = append(trainOpts, s.trainOpts...)
	serviceOpts = append(serviceOpts, fraud.WithTrainingOptions(trainOpts...))

	s.service = fraud.NewService(store, serviceOpts...)
	s.health.Register("model", health.ReadyFunc(s.service.Ready, fraud.ErrNotReady))

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	// nil trusts no proxy, so ClientIP is the peer address
	if err := s.router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) openDatabase(ctx context.Context) (*fraud.PostgresStore, error) {
	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := retry.Do(ctx, retry.Startup, "database ping", func(ctx context.Context) error {
		return classifyPingError(db.PingContext(ctx))
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := fraud.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		s.logger.Warn("schema migration failed, run cmd/migrate", "error", err)
	}

	s.db = db
	s.health.Register("database", health.Database(db))
	s.logger.Info("using postgres assessment store", "dsn", maskDSN(s.cfg.DatabaseURL))
	return store, nil
}

// classifyPingError marks failures that no amount of waiting will fix
// (bad credentials, missing database) as permanent.
func classifyPingError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "28", "3D": // invalid_authorization_specification, invalid_catalog_name
			return retry.Permanent(err)
		}
	}
	return err
}

func (s *Server) newBreaker() *circuitbreaker.Breaker {
	b := circuitbreaker.New(5, 30*time.Second)
	b.OnTransition(func(sink string, from, to circuitbreaker.State) {
		s.logger.Warn("sink circuit breaker transition", "sink", sink, "from", from.String(), "to", to.String())
	})
	return b
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSAllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.router.Use(s.rateLimiter.Middleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
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
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
		}

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
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

	// Live decision feed
	s.router.GET("/ws", gin.WrapF(s.realtimeHub.HandleWebSocket))
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	v1 := s.router.Group("/api/v1")
	fraud.NewHandler(s.service).RegisterRoutes(v1)
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
		Version:   s.version,
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

// readinessHandler reports ready only once the model is trained and the
// listener is accepting connections.
func (s *Server) readinessHandler(c *gin.Context) {
	if !s.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"model":     s.service.Ready(),
			"listening": s.listening.Load(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Train runs start-up training. A failure is a *fraud.StartupTrainingError
// and the process must not serve traffic.
func (s *Server) Train(ctx context.Context) error {
	return s.service.InitializeModel(logging.WithLogger(ctx, s.logger))
}

// Ready reports whether the server should receive traffic.
func (s *Server) Ready() bool {
	return s.listening.Load() && s.service.Ready()
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	if !s.service.Ready() {
		return fraud.ErrNotReady
	}

	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		cancel()
		return fmt.Errorf("listen on port %s: %w", s.cfg.Port, err)
	}

	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.listening.Store(true)
	s.logger.Info("server ready", "addr", ln.Addr().String(), "model_id", s.service.Model().ID())

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
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
	s.listening.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// In-flight requests are done; let their sink deliveries finish.
	s.service.Flush()
	s.logger.Info("pending assessment deliveries flushed")

	// Stops the hub (closing websocket clients) and the stats collector.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	s.Close()

	s.logger.Info("server stopped")
	return shutdownErr
}

// Close releases every external connection New opened. Shutdown calls it;
// call it directly only when Run was never started.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}

		if s.kafka != nil {
			s.kafka.Close()
			s.logger.Info("kafka producer closed")
		}

		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				s.logger.Error("redis close error", "error", err)
			}
		}

		// Close database connection pool
		if s.db != nil {
			if err := s.db.Close(); err != nil {
				s.logger.Error("database close error", "error", err)
			} else {
				s.logger.Info("database connection closed")
			}
		}
	})
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Service returns the fraud scoring service.
func (s *Server) Service() *fraud.Service {
	return s.service
}
