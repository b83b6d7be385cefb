/**
 * @description
 * This file sets up the HTTP router for the payments service. It defines the API endpoints,
 * associates them with their handlers and applies authentication, rate limiting and CORS.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig holds the cross-cutting settings of the HTTP layer.
type RouterConfig struct {
	Auth           AuthConfig
	Keys           KeySource
	InternalAPIKey string
	AllowedOrigins []string
	WebhookLimiter *ClientRateLimiter
	RequestTimeout time.Duration
}

// Routes creates the router for the payments service.
func Routes(h *Handlers, webhook http.Handler, cfg RouterConfig, logger *zap.Logger) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Group(func(r chi.Router) {
		if cfg.WebhookLimiter != nil {
			r.Use(cfg.WebhookLimiter.Middleware)
		}
		r.Method(http.MethodPost, "/webhooks/processor", webhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(cfg.Keys, cfg.Auth, logger))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.CreatePaymentHandler)
			r.Get("/", h.ListPaymentsHandler)
			r.Get("/{id}", h.GetPaymentHandler)
			r.Post("/{id}/resume", h.ResumePaymentHandler)
			r.Post("/{id}/refunds", h.RefundPaymentHandler)
		})

		r.Route("/escrows", func(r chi.Router) {
			r.Post("/", h.CreateEscrowHandler)
			r.Get("/{id}", h.GetEscrowHandler)
			r.Post("/{id}/milestones/{milestoneID}/release", h.ReleaseMilestoneHandler)
			r.Post("/{id}/refunds", h.RefundEscrowHandler)
		})

		r.Route("/vendors/{vendorID}", func(r chi.Router) {
			r.Put("/payout-config", h.UpsertPayoutConfigHandler)
			r.Get("/payout-config", h.GetPayoutConfigHandler)
			r.Get("/payouts", h.ListVendorPayoutsHandler)
			r.Post("/payouts/manual", h.RequestManualPayoutHandler)
			r.Get("/compliance", h.ComplianceHandler)
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/escrows/{id}/milestones/{milestoneID}/complete", h.CompleteMilestoneHandler)
		r.Post("/payouts/run", h.RunPayoutsHandler)
	})

	return r
}
