package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/telemart/storefront-backend/internal/cron"
	"github.com/telemart/storefront-backend/internal/ledger"
	"github.com/telemart/storefront-backend/internal/orders"
	"github.com/telemart/storefront-backend/internal/payments"
	"github.com/telemart/storefront-backend/pkg/config"
	"github.com/telemart/storefront-backend/pkg/db"
	"github.com/telemart/storefront-backend/pkg/logger"
	"github.com/telemart/storefront-backend/pkg/metrics"
	"github.com/telemart/storefront-backend/pkg/migrate"
	"github.com/telemart/storefront-backend/pkg/outbox"
	"github.com/telemart/storefront-backend/pkg/redis"
	"github.com/telemart/storefront-backend/pkg/yookassa"
)

const lockKeyFormat = "tgstore:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	providerClient, err := yookassa.NewClient(cfg.YooKassa.ShopID, cfg.YooKassa.SecretKey,
		yookassa.WithBaseURL(cfg.YooKassa.BaseURL),
		yookassa.WithHTTPClient(&http.Client{Timeout: cfg.YooKassa.Timeout}),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment provider client", err)
		os.Exit(1)
	}

	outboxService, err := outbox.NewService(outbox.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox service", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(payments.ServiceParams{
		Logger:            logg,
		TransactionRunner: dbClient,
		PaymentRepo:       payments.NewRepository(dbClient.DB()),
		OrderStore:        orders.NewRepository(dbClient.DB()),
		Outbox:            outboxService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)

	reconcileJob, err := cron.NewReconcilePaymentsJob(cron.ReconcilePaymentsJobParams{
		Logger:    logg,
		DB:        dbClient,
		Payments:  paymentsService,
		Provider:  providerClient,
		Ledger:    ledgerService,
		Metrics:   jobMetrics,
		Staleness: cfg.Sweeper.StalenessThreshold,
		Limit:     cfg.Sweeper.BatchSize,
		Timeout:   cfg.YooKassa.Timeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile job", err)
		os.Exit(1)
	}

	ledgerRetentionJob, err := cron.NewLedgerRetentionJob(cron.LedgerRetentionJobParams{
		Logger:    logg,
		Ledger:    ledgerService,
		Retention: cfg.Ledger.Retention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger retention job", err)
		os.Exit(1)
	}

	outboxRetentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger: logg,
		Outbox: outbox.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Sweeper.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(reconcileJob, ledgerRetentionJob, outboxRetentionJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Sweeper.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	ctx = logg.WithField(ctx, "jobs", strings.Join(registry.Names(), ","))
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
