package http

import (
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fruitcopy/server/internal/auth"
	"github.com/fruitcopy/server/internal/http/handlers"
	"github.com/fruitcopy/server/internal/metrics"
	"github.com/fruitcopy/server/internal/middleware"
	"github.com/fruitcopy/server/internal/model"
	"github.com/fruitcopy/server/internal/repo"
)

// RouterDeps are the collaborators the router wires into its routes
type RouterDeps struct {
	AuthHandler  *handlers.AuthHandler
	AdminHandler *handlers.AdminHandler
	JWTService   *auth.JWTService
	Players      repo.PlayerRepo
	IPLimiter    *middleware.RateLimiter
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(middleware.RateLimitMiddleware(d.IPLimiter, middleware.ClientIP, func(req *http.Request) {
				d.Metrics.Throttled(operationName(req))
			}))
			r.Post("/request-otp", d.AuthHandler.HandleRequestOTP)
			r.Post("/verify-otp", d.AuthHandler.HandleVerifyOTP)
			r.Post("/refresh", d.AuthHandler.HandleRefresh)
			r.Post("/logout", d.AuthHandler.HandleLogout)
		})

		// Protected routes (require valid JWT)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(d.JWTService, d.Players))
			r.Get("/me", d.AuthHandler.HandleMe)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(model.RoleAdmin))
				r.Get("/players/{playerID}/sessions", d.AdminHandler.HandleSessions)
				r.Get("/sessions/{tokenID}/lineage", d.AdminHandler.HandleLineage)
			})
		})
	})

	return r
}

// operationName turns /api/auth/request-otp into request_otp
func operationName(r *http.Request) string {
	return strings.ReplaceAll(path.Base(r.URL.Path), "-", "_")
}
