package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/botchat/internal/middleware"
	"github.com/capitalize-ai/botchat/pkg/logger"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Logger            *logger.Logger
	Verifier          *middleware.Verifier
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	Health   *HealthHandler
	Users    *UserHandler
	Bots     *BotHandler
	Messages *MessageHandler
	// Realtime serves the websocket endpoint. It authenticates the
	// handshake itself.
	Realtime http.Handler
}

// NewRouter builds the chi router for the server.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Realtime endpoint, rate limited per IP before the upgrade
	r.With(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)).Handle("/ws", cfg.Realtime)

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Verifier))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/users/me", func(r chi.Router) {
			r.Get("/", cfg.Users.Me)
			r.Put("/", cfg.Users.UpdateMe)
			r.Delete("/", cfg.Users.DeleteMe)
		})
		r.Get("/bots/{id}", cfg.Bots.Get)
		r.Get("/messages", cfg.Messages.List)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeAdmin))

			r.Get("/users", cfg.Users.List)
			r.Post("/users/{id}/ban", cfg.Users.Ban)
			r.Post("/users/{id}/unban", cfg.Users.Unban)
			r.Delete("/users/{id}", cfg.Users.Delete)

			r.Get("/bots", cfg.Bots.List)
			r.Post("/bots", cfg.Bots.Create)
			r.Put("/bots/{id}", cfg.Bots.Update)
			r.Delete("/bots/{id}", cfg.Bots.Delete)

			r.Delete("/messages/{id}", cfg.Messages.Delete)
		})
	})

	return r
}
