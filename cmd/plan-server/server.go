package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/womenshealth/planner/internal/config"
	"github.com/womenshealth/planner/internal/domain/company"
	"github.com/womenshealth/planner/internal/domain/plan"
	"github.com/womenshealth/planner/internal/platform/auth"
	"github.com/womenshealth/planner/internal/platform/blobstore"
	"github.com/womenshealth/planner/internal/platform/db"
	"github.com/womenshealth/planner/internal/platform/llm"
	"github.com/womenshealth/planner/internal/platform/lock"
	"github.com/womenshealth/planner/internal/platform/middleware"
	"github.com/womenshealth/planner/internal/platform/planpdf"
	"github.com/womenshealth/planner/internal/platform/prompt"
	"github.com/womenshealth/planner/internal/platform/synthesis"
	"github.com/womenshealth/planner/internal/platform/telemetry"
)

const blobPrefix = "/blobs"

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		logger := newLogger(nil)
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	// Tracing
	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Enabled:     cfg.TracingEnabled,
		ServiceName: "plan-server",
		Environment: cfg.Env,
		Version:     version,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise tracing")
	}

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolSettings(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	metrics := telemetry.NewMetrics()

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up generation lock")
	}
	defer closeLocker()

	blobs, downloads, closeBlobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up exam file storage")
	}
	defer closeBlobs()
	if err := blobs.EnsureBucket(ctx); err != nil {
		logger.Fatal().Err(err).Msg("exam file bucket is not usable")
	}

	// Generation pipeline
	client, err := llm.New(llmConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create model client")
	}
	templates, err := prompt.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load prompt templates")
	}
	logger.Info().
		Str("provider", cfg.LLMProvider).
		Str("model", cfg.LLMModel).
		Str("prompts", templates.Version()).
		Str("headings", prompt.HeadingsVersion).
		Msg("generation pipeline ready")

	companySvc := company.NewService(company.NewRepoPG(pool), logger)
	planSvc := plan.NewService(plan.NewRepoPG(pool), plan.Deps{
		Generator: synthesis.NewOrchestrator(client, templates, logger, metrics),
		Quota:     companySvc,
		Locker:    locker,
		Renderer: planpdf.NewRenderer(planpdf.Branding{
			Wordmark: cfg.PDFWordmark,
			Subtitle: cfg.PDFSubtitle,
			Tagline:  cfg.PDFTagline,
		}),
		Blobs:      blobs,
		PresignTTL: cfg.PresignTTL(),
		Metrics:    metrics,
		Logger:     logger,
	})

	// Plans left in generating by a previous process can never finish.
	if _, err := planSvc.RecoverInterrupted(ctx, time.Now().Add(-cfg.GenerationLockTTL())); err != nil {
		logger.Error().Err(err).Msg("failed to recover interrupted generations")
	}

	e := newEcho(cfg, logger, metrics)
	if downloads != nil {
		downloads.RegisterRoutes(e, blobPrefix)
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	e.GET("/metrics", metrics.PrometheusHandler())

	apiV1 := e.Group("/api/v1", authMiddleware(cfg), middleware.RateLimit(rateLimitConfig(cfg)), middleware.Audit(logger))
	companyHandler := company.NewHandler(companySvc)
	companyHandler.RegisterRoutes(apiV1)
	planHandler := plan.NewHandler(planSvc)
	planHandler.RegisterRoutes(apiV1)

	docs := newAPIDoc()
	docs.Add(companyHandler.Operations()...)
	docs.Add(planHandler.Operations()...)
	docs.RegisterRoutes(e.Group("/api"))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newEcho builds the server with the global middleware stack. Auth, rate
// limiting and audit logging are attached to the API group by the caller.
func newEcho(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 10 * time.Second
	// generation is the concurrent analyses followed by the synthesis call
	e.Server.WriteTimeout = 2*cfg.LLMTimeout() + 30*time.Second

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.DevCompanyHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, echo.HeaderContentDisposition},
	}))
	e.Use(middleware.SecurityHeaders(securityHeadersConfig(cfg)))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	e.Use(metrics.MetricsMiddleware())
	e.Use(telemetry.TracingMiddleware())
	return e
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	var verify echo.MiddlewareFunc
	if cfg.JWTSigningKey != "" || cfg.AuthIssuer != "" || cfg.AuthJWKSURL != "" {
		verify = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.JWTSigningKey),
		})
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(verify)
	}
	return verify
}

// rateLimitConfig falls back to the defaults pair by pair. A negative
// generation rate turns the generation limit off.
func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		rl.RequestsPerSecond, rl.BurstSize = cfg.RateLimitRPS, cfg.RateLimitBurst
	}
	switch {
	case cfg.GenRatePerMin < 0:
		rl.GenerationsPerMinute, rl.GenerationBurst = 0, 0
	case cfg.GenRatePerMin > 0 && cfg.GenRateBurst > 0:
		rl.GenerationsPerMinute, rl.GenerationBurst = cfg.GenRatePerMin, cfg.GenRateBurst
	}
	return rl
}

func securityHeadersConfig(cfg *config.Config) middleware.SecurityHeadersConfig {
	sh := middleware.DefaultSecurityHeadersConfig()
	// dev servers run over plain http
	sh.HSTS = !cfg.IsDev()
	return sh
}

func poolSettings(cfg *config.Config) db.PoolSettings {
	return db.PoolSettings{
		MaxConns:          cfg.DBMaxConns,
		MinConns:          cfg.DBMinConns,
		MaxConnLifetime:   time.Duration(cfg.DBLifetimeMins) * time.Minute,
		MaxConnIdleTime:   time.Duration(cfg.DBIdleMins) * time.Minute,
		HealthCheckPeriod: time.Duration(cfg.DBHealthSecs) * time.Second,
	}
}

func llmConfig(cfg *config.Config) llm.Config {
	return llm.Config{
		Provider:    cfg.LLMProvider,
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
		Timeout:     cfg.LLMTimeout(),
	}
}

// newLocker returns a Redis lock when REDIS_URL is set so generations are
// serialised across replicas; a single process falls back to an in-memory lock.
func newLocker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set; generation lock is local to this process")
		return lock.NewLocal(), func() {}, nil
	}
	rdb, err := lock.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("close redis client")
		}
	}
	return lock.NewRedis(rdb, cfg.GenerationLockTTL(), logger), closeFn, nil
}

// newBlobStore returns the exam file store. The in-memory store also returns
// the handler serving its presigned URLs.
func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, *blobstore.DownloadHandler, func(), error) {
	switch cfg.StorageBackend {
	case "gcs":
		store, err := blobstore.NewGCSStore(ctx, blobstore.GCSConfig{
			Bucket:    cfg.GCSBucket,
			ProjectID: cfg.GCSProjectID,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return store, nil, func() { _ = store.Close() }, nil
	case "memory", "":
		store := blobstore.NewInMemoryBlobStore(fmt.Sprintf("http://localhost:%s%s", cfg.Port, blobPrefix))
		return store, blobstore.NewDownloadHandler(store), func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
