package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/exam-scheduling/cmd/mainconfig"
	"github.com/wolfman30/exam-scheduling/internal/api/router"
	"github.com/wolfman30/exam-scheduling/internal/app/bootstrap"
	appconfig "github.com/wolfman30/exam-scheduling/internal/config"
	"github.com/wolfman30/exam-scheduling/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/exam-scheduling/internal/http/middleware"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

func main() {
	// Optional .env for local runs
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting exam-scheduling API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	auditDB := bootstrap.AuditDB(pool)
	defer func() { _ = auditDB.Close() }()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	email, err := mainconfig.EmailSender(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to configure email", "error", err)
		os.Exit(1)
	}

	schedMetrics, metricsHandler := bootstrap.BuildMetrics()
	core, err := bootstrap.BuildScheduling(cfg, bootstrap.SchedulingDeps{
		Pool:    pool,
		AuditDB: auditDB,
		Redis:   redisClient,
		Email:   email,
		Metrics: schedMetrics,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to build scheduling core", "error", err)
		os.Exit(1)
	}

	go core.Reconciler.Start(ctx)
	go core.Deliverer.Start(ctx)

	health := map[string]handlers.Pinger{"postgres": pool}
	if redisClient != nil {
		health["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	r := router.New(&router.Config{
		Logger:              logger,
		BookingHandler:      handlers.NewBookingHandler(core.Bookings, logger),
		AvailabilityHandler: handlers.NewAvailabilityHandler(core.Availability, core.Repository, logger),
		AcuityWebhook:       handlers.NewAcuityWebhookHandler(core.Bookings, logger),
		Health:              handlers.Health(health),
		MetricsHandler:      metricsHandler,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		AuthJWTSecret:       cfg.AuthJWTSecret,
		RateLimiter:         httpmiddleware.NewRateLimiter(ctx, cfg.APIRateLimitRPS, cfg.APIRateLimitBurst),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Booking creation may wait on the provider's 30s timeout.
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
