package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ehr/ilpi/internal/config"
	"github.com/ehr/ilpi/internal/domain/prescription"
	"github.com/ehr/ilpi/internal/domain/resident"
	"github.com/ehr/ilpi/internal/domain/user"
	"github.com/ehr/ilpi/internal/domain/vitalsign"
	"github.com/ehr/ilpi/internal/platform/auth"
	"github.com/ehr/ilpi/internal/platform/db"
	"github.com/ehr/ilpi/internal/platform/history"
	"github.com/ehr/ilpi/internal/platform/isolation"
	"github.com/ehr/ilpi/internal/platform/middleware"
	"github.com/ehr/ilpi/internal/platform/telemetry"
	"github.com/ehr/ilpi/internal/platform/tenant"
	"github.com/ehr/ilpi/internal/platform/versioning"
)

const requestTimeout = 30 * time.Second

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "ilpi-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       cfg.IsDev(),
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	monitor := isolation.NewMonitor(nil, logger, isolation.WithSlowThreshold(cfg.IsolationSlowQuery))
	tracers := queryTracers(logger, monitor)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns,
		db.WithPoolTracer(tracers("public")))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	router, err := newRouter(cfg, pool, logger, tracers)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build tenant router")
	}
	defer router.Close()

	tenants, resolver, closeCache := newTenantServices(ctx, cfg, pool, router, logger)
	defer closeCache()

	e, err := newEcho(cfg, logger, pool, router, resolver, tenants)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           telemetry.Handler(e, "ilpi-server"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newEcho assembles the HTTP surface: infrastructure endpoints at the root,
// tenant administration under /api/v1/admin and the tenant-routed record API
// under /api/v1. tenants must evict through the same router and resolver the
// record API serves from.
func newEcho(cfg *config.Config, logger zerolog.Logger, admin db.Pinger, router *db.Router, resolver tenant.NamespaceResolver, tenants tenant.Lifecycle) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics())
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", tenant.TenantHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(admin, router))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	jwtCfg := auth.JWTConfig{
		SigningKey: []byte(cfg.JWTSecret),
		Skipper:    auth.AuthSkipper,
	}
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}

	rateLimit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})

	adminAPI := e.Group("/api/v1/admin",
		middleware.RequestTimeout(requestTimeout),
		authMW,
		rateLimit,
		middleware.Audit(logger),
	)
	tenant.NewHandler(tenants).RegisterRoutes(adminAPI)

	apiV1 := e.Group("/api/v1",
		middleware.RequestTimeout(requestTimeout),
		authMW,
		tenant.Middleware(resolver, router),
		rateLimit,
		middleware.Audit(logger),
	)

	if err := registerDomains(apiV1, logger); err != nil {
		return nil, err
	}
	return e, nil
}

// registerDomains builds every versioned entity service on the shared history
// ledger and mounts its routes.
func registerDomains(api *echo.Group, logger zerolog.Logger) error {
	store := history.NewPGStore()
	opts := versioning.Options{Actors: user.Directory{}}

	users, err := user.NewService(user.NewTable(), store, logger, opts)
	if err != nil {
		return err
	}
	residents, err := resident.NewService(resident.NewTable(), store, logger, opts)
	if err != nil {
		return err
	}
	vitals, err := vitalsign.NewService(vitalsign.NewTable(), store, residents, logger, opts)
	if err != nil {
		return err
	}
	prescriptions, err := prescription.NewService(prescription.NewTable(), store, residents, logger, opts)
	if err != nil {
		return err
	}

	user.RegisterRoutes(api, users)
	resident.RegisterRoutes(api, residents)
	vitalsign.RegisterRoutes(api, vitals)
	prescription.RegisterRoutes(api, prescriptions)
	return nil
}
