package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telemart/storefront-backend/api/controllers"
	deliverycontrollers "github.com/telemart/storefront-backend/api/controllers/delivery"
	ordercontrollers "github.com/telemart/storefront-backend/api/controllers/orders"
	webhookcontrollers "github.com/telemart/storefront-backend/api/controllers/webhooks"
	"github.com/telemart/storefront-backend/api/middleware"
	deliverysvc "github.com/telemart/storefront-backend/internal/delivery"
	ordersvc "github.com/telemart/storefront-backend/internal/orders"
	yookassawebhook "github.com/telemart/storefront-backend/internal/webhooks/yookassa"
	"github.com/telemart/storefront-backend/pkg/config"
	"github.com/telemart/storefront-backend/pkg/db"
	"github.com/telemart/storefront-backend/pkg/logger"
	"github.com/telemart/storefront-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	registry *prometheus.Registry,
	deliveryService *deliverysvc.Service,
	ordersService *ordersvc.Service,
	webhookGateway *yookassawebhook.Service,
) http.Handler {
	var idempotencyStore redis.IdempotencyStore
	var redisPinger redis.Pinger
	if redisClient != nil {
		idempotencyStore = redisClient
		redisPinger = redisClient
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisPinger))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/yookassa", webhookcontrollers.YooKassaWebhook(webhookGateway, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Post("/delivery/quotes", deliverycontrollers.Quotes(deliveryService, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(ordersService, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", ordercontrollers.Detail(ordersService, logg))
				r.Post("/quote", ordercontrollers.AttachQuote(ordersService, logg))
				r.Post("/payment", ordercontrollers.StartPayment(ordersService, logg))
				r.Get("/payment", ordercontrollers.PaymentStatus(ordersService, logg))
				r.Post("/cancel", ordercontrollers.Cancel(ordersService, logg))
			})
		})
	})

	return r
}
