package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/climbclub/ticketdesk/api/controllers"
	issuecontrollers "github.com/climbclub/ticketdesk/api/controllers/issues"
	ordercontrollers "github.com/climbclub/ticketdesk/api/controllers/orders"
	webhookcontrollers "github.com/climbclub/ticketdesk/api/controllers/webhooks"
	"github.com/climbclub/ticketdesk/api/middleware"
	"github.com/climbclub/ticketdesk/pkg/config"
	"github.com/climbclub/ticketdesk/pkg/logger"
	"github.com/climbclub/ticketdesk/pkg/metrics"
)

// Deps is everything the HTTP surface calls into.
type Deps struct {
	DB           controllers.Pinger
	Redis        controllers.Pinger
	Webhooks     webhookcontrollers.HelloAssoWebhookService
	Interactions http.Handler
	Issues       issuecontrollers.Lister
	Exporter     ordercontrollers.Exporter
	Gatherer     prometheus.Gatherer
	HTTPMetrics  *metrics.HTTPMetrics
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
	)

	r.Get("/healthz", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/helloasso", webhookcontrollers.HelloAssoWebhook(deps.Webhooks, logg))
		if deps.Interactions != nil {
			r.Method(http.MethodPost, "/interactions/discord", deps.Interactions)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.OperatorAuth(cfg.Operator, logg))
			r.Get("/issues", issuecontrollers.List(deps.Issues, logg))
			r.Get("/orders/export", ordercontrollers.Export(deps.Exporter, logg))
		})
	})

	return r
}
