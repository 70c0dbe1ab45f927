package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletcore/internal/balance"
	"github.com/congo-pay/walletcore/internal/config"
	"github.com/congo-pay/walletcore/internal/infra"
	"github.com/congo-pay/walletcore/internal/logging"
	"github.com/congo-pay/walletcore/internal/metrics"
	"github.com/congo-pay/walletcore/internal/payout"
	"github.com/congo-pay/walletcore/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if cfg.MigrateOnStart {
			if err := infra.Migrate(cfg.DatabaseURL, logger); err != nil {
				logger.Error("migrate", "error", err)
				os.Exit(1)
			}
		}
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory ledger")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	} else {
		logger.Warn("REDIS_URL not set; idempotency and payout queue disabled")
	}

	srv, err := server.New(cfg, db, cache, metrics.New(), logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	var scheduler *balance.Scheduler
	if cfg.ReconcileSchedule != config.ScheduleOff {
		scheduler, err = balance.NewScheduler(srv.Services().Projector, cfg.ReconcileSchedule, 0, logger)
		if err != nil {
			logger.Error("build reconcile scheduler", "error", err)
			os.Exit(1)
		}
		scheduler.Start()
	}

	var payouts *asynq.Server
	if cache != nil {
		payouts = payout.NewServer(cache, cfg.PayoutQueue, cfg.PayoutConcurrency, logger)
		mux := asynq.NewServeMux()
		payout.NewWorker(&payout.StaticGateway{}, logger).Register(mux)
		if err := payouts.Start(mux); err != nil {
			logger.Error("start payout worker", "error", err)
			os.Exit(1)
		}
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	if payouts != nil {
		payouts.Shutdown()
	}

	logger.Info("server exited cleanly")
}
