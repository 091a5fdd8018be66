package rest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter mounts every HTTP route. ws serves the WebSocket upgrade and
// authenticates on its own.
func NewRouter(log *slog.Logger, h *Handlers, ws http.Handler, config RouterConfig) http.Handler {
	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/ws", ws)

	r.Group(func(r chi.Router) {
		if config.RateLimitRequests > 0 {
			r.Use(RateLimit(config.RateLimitRequests, config.RateLimitWindow))
		}
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(h.authService))
		if config.RateLimitRequests > 0 {
			r.Use(RateLimit(config.RateLimitRequests, config.RateLimitWindow))
		}
		r.Get("/users", h.Users)
		r.Get("/messages/{conversationId}", h.Messages)
	})
	return r
}
