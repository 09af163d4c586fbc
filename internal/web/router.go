package web

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/znz-systems/threadline/internal/ratelimit"
	"github.com/znz-systems/threadline/internal/web/handlers"
	"github.com/znz-systems/threadline/internal/web/middleware"
)

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	EmailHandler      *handlers.EmailHandler
	InboundAPIHandler *handlers.InboundAPIHandler
	Limiter           *ratelimit.Limiter
	APIKeyHash        string
	DB                *sql.DB
}

// NewRouter wires all routes into a Chi router.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RealIP)

	// Operational endpoints, unauthenticated
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := deps.DB.PingContext(req.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated API (rate limited)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(deps.APIKeyHash))
		r.Use(middleware.RateLimit(deps.Limiter))

		r.Post("/api/v1/inbound/emails", deps.InboundAPIHandler.HandleReceiveEmail)
		r.Post("/api/v1/emails", deps.EmailHandler.HandleSendEmail)
		r.Get("/api/v1/emails/{emailID}", deps.EmailHandler.HandleGetEmail)
		r.Get("/api/v1/emails/{emailID}/thread", deps.EmailHandler.HandleGetThread)
	})

	return r
}
