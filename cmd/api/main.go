package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tadeleke/corebank/internal/api"
	"github.com/tadeleke/corebank/internal/auth"
	"github.com/tadeleke/corebank/internal/config"
	"github.com/tadeleke/corebank/internal/store"
	"github.com/tadeleke/corebank/internal/transfer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pg, err := store.NewPostgres(ctx, cfg.DBSource, cfg.LockWait)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pg.Close()
	if err := pg.Bootstrap(ctx); err != nil {
		logger.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	authSvc := auth.NewService(pg, store.NewRedisTokens(rdb), cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL, logger)
	engine := transfer.NewEngine(pg, logger)
	handler := api.NewHandler(engine, authSvc, pg, logger)

	router := api.NewRouter(handler, authSvc,
		api.RateLimit(rdb, cfg.RateLimit, cfg.RateLimitWindow),
		api.RateLimit(rdb, cfg.TransferRateLimit, cfg.RateLimitWindow))
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}
