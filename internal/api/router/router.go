// Package router assembles the chi mux for the concierge API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dommoco/whatsapp-concierge/internal/http/handlers"
	"github.com/dommoco/whatsapp-concierge/internal/http/middleware"
	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

// Config carries the handlers the router mounts.
type Config struct {
	Webhooks *handlers.WhatsAppWebhookHandler
	Logger   *logging.Logger
	// Throttle rate-limits the webhook endpoint when set.
	Throttle *middleware.WebhookThrottle
	// Metrics serves /metrics; nil mounts the default promhttp handler.
	Metrics http.Handler
}

// New builds the HTTP routing tree.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger(cfg.Logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	metricsHandler := cfg.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	if cfg.Webhooks != nil {
		r.Group(func(g chi.Router) {
			if cfg.Throttle != nil {
				g.Use(cfg.Throttle.Handler)
			}
			g.Get("/webhook", cfg.Webhooks.Verify)
			g.Post("/webhook", cfg.Webhooks.Receive)
		})
	}

	return r
}
