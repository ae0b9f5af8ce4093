package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/api/handler"
	"github.com/Wilsonc7/mp-notifier/internal/adapter/api/middleware"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

// Handlers are the endpoints of the public listener.
type Handlers struct {
	Device    *handler.DeviceHandler
	Auth      *handler.AuthHandler
	Dashboard *handler.DashboardHandler
	Tenants   *handler.TenantHandler
	Events    *handler.SSEBroker
}

// NewRouter creates the public HTTP router.
func NewRouter(logger *slog.Logger, tokens middleware.TokenValidator, h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	authenticated := middleware.Auth(tokens, logger)

	// The event stream is long-lived and must not sit behind the gzip buffer.
	r.With(authenticated).Get("/api/events", h.Events.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(gzip)

		r.Get("/api/payments", h.Device.ServeHTTP)
		r.Post("/api/login", h.Auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			r.Use(middleware.RequireRole(domain.RoleClient))
			r.Get("/api/dashboard", h.Dashboard.Metrics)
			r.Get("/api/transactions", h.Dashboard.Transactions)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(authenticated)
			r.Use(middleware.RequireRole(domain.RoleAdmin))
			r.Get("/metrics", h.Dashboard.GlobalMetrics)
			r.Get("/tenants", h.Tenants.List)
			r.Get("/tenants/{key}", h.Tenants.Get)
			r.Put("/tenants/{key}", h.Tenants.Upsert)
			r.Post("/tenants/{key}/deactivate", h.Tenants.Deactivate)
			r.Post("/tenants/{key}/activate", h.Tenants.Activate)
			r.Put("/tenants/{key}/credential", h.Tenants.RotateCredential)
		})
	})

	return r
}

func gzip(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
