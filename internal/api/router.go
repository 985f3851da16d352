package api

import (
	"net/http"

	"podpiska-billing/internal/common/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	JWTSecret   string
	CORSOrigins []string
}

// NewRouter mounts the public probes, the gateway notification endpoint and
// the authenticated /api/v1 routes.
func NewRouter(cfg RouterConfig, h *Handlers, notifications http.Handler, log logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(Recovery(log))
	r.Use(RequestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// The gateway authenticates with HTTP Basic, not bearer tokens.
	r.Method(http.MethodPost, "/webhooks/bepaid", notifications)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Auth([]byte(cfg.JWTSecret)))

		r.Post("/checkout", h.Checkout)
		r.Post("/subscriptions/{userId}/opt-out", h.OptOut)

		r.Group(func(r chi.Router) {
			r.Use(AdminOnly)
			r.Get("/admin/subscriptions", h.ListSubscriptions)
			r.Get("/admin/subscriptions/{userId}", h.GetSubscription)
			r.Post("/admin/subscriptions/{userId}/revoke", h.RevokeSubscription)
			r.Put("/admin/settings/{key}", h.PutSetting)
		})
	})

	return r
}
