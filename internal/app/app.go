package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/giroclub/giroclub-backend/internal/api"
	"github.com/giroclub/giroclub-backend/internal/api/middleware"
	"github.com/giroclub/giroclub-backend/internal/config"
	"github.com/giroclub/giroclub-backend/internal/db"
	"github.com/giroclub/giroclub-backend/internal/gateway"
	"github.com/giroclub/giroclub-backend/internal/idempotency"
	"github.com/giroclub/giroclub-backend/internal/observability"
	"github.com/giroclub/giroclub-backend/internal/repository"
	"github.com/giroclub/giroclub-backend/internal/service"
	"github.com/giroclub/giroclub-backend/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	repo := repository.NewRepository(pool)

	gw := newGateway(cfg)
	logger.Info("payment gateway configured", zap.String("mode", cfg.GatewayMode))

	profileSvc := service.NewProfileService(repo)
	groupSvc := service.NewGroupService(repo)
	loanSvc := service.NewLoanService(repo)
	depositSvc := service.NewDepositService(repo, gw).
		WithChargeTTL(cfg.ChargeTTL).
		WithPollInterval(cfg.DepositPollInterval)
	defer depositSvc.Stop()

	cycleWorker := worker.NewCycleWorker(repo).WithPollInterval(cfg.CycleInterval)
	go cycleWorker.Start(ctx)

	reconWorker := worker.NewReconciliationWorker(repo).WithPollInterval(cfg.ReconciliationInterval)
	go reconWorker.Start(ctx)

	router := api.NewRouter(
		pool, redisClient, logger, idemStore,
		profileSvc, groupSvc, depositSvc, loanSvc,
		cfg.PublicRateLimitRPS, cfg.AuthRateLimitRPS,
	)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	cycleWorker.Stop()
	reconWorker.Stop()
	depositSvc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newGateway(cfg *config.Config) gateway.Gateway {
	if cfg.GatewayMode == config.GatewayModeMercadoPago {
		return gateway.NewMercadoPago(cfg.MPBaseURL, cfg.MPAccessToken, cfg.MPPayerEmail)
	}
	return gateway.NewMockGateway()
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
