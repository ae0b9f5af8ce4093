package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/api/middleware"
	"github.com/Wilsonc7/mp-notifier/internal/usecase"
)

// DashboardService computes the read models served to logged-in tenants.
type DashboardService interface {
	Metrics(ctx context.Context, tenantKey string, q usecase.RangeQuery, now time.Time) (*usecase.MetricsView, error)
	History(ctx context.Context, tenantKey string, q usecase.RangeQuery, p usecase.Page, now time.Time) (*usecase.HistoryView, error)
	GlobalMetrics(ctx context.Context, now time.Time) (*usecase.GlobalView, error)
}

// DashboardHandler serves the tenant dashboard, its history and the admin's global view.
type DashboardHandler struct {
	svc    DashboardService
	logger *slog.Logger
	now    func() time.Time
}

func NewDashboardHandler(svc DashboardService, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{svc: svc, logger: logger, now: time.Now}
}

// Metrics handles GET /api/dashboard?range=&start=&end=.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		respondWithError(w, h.logger, http.StatusUnauthorized, "authorization required")
		return
	}

	view, err := h.svc.Metrics(r.Context(), claims.TenantKey, rangeQuery(r), h.now())
	if err != nil {
		respondWithDomainError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, view)
}

// Transactions handles GET /api/transactions?range=&start=&end=&limit=&offset=.
func (h *DashboardHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		respondWithError(w, h.logger, http.StatusUnauthorized, "authorization required")
		return
	}

	var page usecase.Page
	var ok bool
	if page.Limit, ok = intParam(w, r, h.logger, "limit"); !ok {
		return
	}
	if page.Offset, ok = intParam(w, r, h.logger, "offset"); !ok {
		return
	}

	view, err := h.svc.History(r.Context(), claims.TenantKey, rangeQuery(r), page, h.now())
	if err != nil {
		respondWithDomainError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, view)
}

// GlobalMetrics handles GET /api/admin/metrics.
func (h *DashboardHandler) GlobalMetrics(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GlobalMetrics(r.Context(), h.now())
	if err != nil {
		respondWithDomainError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, view)
}

func rangeQuery(r *http.Request) usecase.RangeQuery {
	q := r.URL.Query()
	return usecase.RangeQuery{Range: q.Get("range"), Start: q.Get("start"), End: q.Get("end")}
}

// intParam parses an optional integer query parameter; absent means zero.
func intParam(w http.ResponseWriter, r *http.Request, logger *slog.Logger, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		respondWithError(w, logger, http.StatusBadRequest, name+" must be a number")
		return 0, false
	}
	return n, true
}
