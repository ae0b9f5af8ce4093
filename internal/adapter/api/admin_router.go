package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/api/handler"
)

// NewAdminRouter creates the router of the operator listener.
func NewAdminRouter(gatherer prometheus.Gatherer, admin *handler.AdminHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/health", admin.HealthCheck)
	r.Get("/admin/scheduler", admin.SchedulerStatus)
	r.Get("/admin/stream", admin.StreamStats)

	return r
}
