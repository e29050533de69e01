package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/telemart/storefront-backend/api/routes"
	"github.com/telemart/storefront-backend/internal/delivery"
	"github.com/telemart/storefront-backend/internal/ledger"
	"github.com/telemart/storefront-backend/internal/orders"
	"github.com/telemart/storefront-backend/internal/payments"
	yookassawebhook "github.com/telemart/storefront-backend/internal/webhooks/yookassa"
	"github.com/telemart/storefront-backend/pkg/config"
	"github.com/telemart/storefront-backend/pkg/db"
	"github.com/telemart/storefront-backend/pkg/logger"
	"github.com/telemart/storefront-backend/pkg/metrics"
	"github.com/telemart/storefront-backend/pkg/migrate"
	"github.com/telemart/storefront-backend/pkg/outbox"
	"github.com/telemart/storefront-backend/pkg/redis"
	"github.com/telemart/storefront-backend/pkg/yandexdelivery"
	"github.com/telemart/storefront-backend/pkg/yookassa"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	carrierClient, err := yandexdelivery.NewClient(cfg.Delivery.Token,
		yandexdelivery.WithBaseURL(cfg.Delivery.BaseURL),
		yandexdelivery.WithHTTPClient(&http.Client{Timeout: cfg.Delivery.Timeout}),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create delivery client", err)
		os.Exit(1)
	}

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

	deliveryService, err := delivery.NewService(delivery.ServiceParams{
		Logger:      logg,
		Carrier:     carrierClient,
		Cache:       redisClient,
		QuoteTTL:    cfg.Delivery.QuoteTTL,
		CallTimeout: cfg.Delivery.Timeout,
		MaxAttempts: cfg.Delivery.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create delivery service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Logger:            logg,
		TransactionRunner: dbClient,
		OrderRepo:         orders.NewRepository(dbClient.DB()),
		Payments:          paymentsService,
		Provider:          providerClient,
		Outbox:            outboxService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	webhookGateway, err := yookassawebhook.NewService(yookassawebhook.ServiceParams{
		Logger:            logg,
		TransactionRunner: dbClient,
		Ledger:            ledgerService,
		Payments:          paymentsService,
		Idempotency:       redisClient,
		Metrics:           webhookMetrics,
		WebhookSecret:     cfg.YooKassa.WebhookSecret,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook gateway", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			registry,
			deliveryService,
			ordersService,
			webhookGateway,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
