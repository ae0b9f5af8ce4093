package handler

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	redisrepo "github.com/Wilsonc7/mp-notifier/internal/adapter/repository/redis"
	"github.com/Wilsonc7/mp-notifier/internal/usecase"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether the database answers.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// SchedulerReporter exposes the polling scheduler's status.
type SchedulerReporter interface {
	Status() usecase.SchedulerStatus
}

// StreamInspector describes the payment event stream.
type StreamInspector interface {
	Stats(ctx context.Context) (*redisrepo.StreamStats, error)
}

// CircuitReporter exposes the provider client's per-tenant breakers.
type CircuitReporter interface {
	CircuitStates() map[string]string
}

// AdminHandler serves the operator endpoints of the admin listener.
// Every collaborator but DB may be nil when the process does not run it.
type AdminHandler struct {
	DB        Pinger
	Scheduler SchedulerReporter
	Stream    StreamInspector
	Spool     interface{ Pending() bool }
	Events    interface{ Clients() int }
	Circuits  CircuitReporter
	logger    *slog.Logger
}

func NewAdminHandler(db Pinger, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{DB: db, logger: logger}
}

type healthResponse struct {
	Status       string   `json:"status"`
	Database     string   `json:"database"`
	SpoolPending bool     `json:"spool_pending"`
	SSEClients   int      `json:"sse_clients,omitempty"`
	OpenCircuits []string `json:"open_circuits,omitempty"`
}

// HealthCheck handles GET /health. It fails when the database does not answer.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok"}
	if h.Spool != nil {
		resp.SpoolPending = h.Spool.Pending()
	}
	if h.Events != nil {
		resp.SSEClients = h.Events.Clients()
	}
	if h.Circuits != nil {
		resp.OpenCircuits = openCircuits(h.Circuits.CircuitStates())
	}

	status := http.StatusOK
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			h.logger.Warn("health check: database unreachable", "error", err)
			resp.Status, resp.Database = "degraded", "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	respondWithJSON(w, h.logger, status, resp)
}

// openCircuits lists the tenants whose breaker is not closed, sorted.
func openCircuits(states map[string]string) []string {
	var keys []string
	for key, state := range states {
		if state != "closed" {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// SchedulerStatus handles GET /admin/scheduler.
func (h *AdminHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		respondWithError(w, h.logger, http.StatusNotFound, "scheduler is not running in this process")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, h.Scheduler.Status())
}

// StreamStats handles GET /admin/stream.
func (h *AdminHandler) StreamStats(w http.ResponseWriter, r *http.Request) {
	if h.Stream == nil {
		respondWithError(w, h.logger, http.StatusNotFound, "payment stream is not configured")
		return
	}
	stats, err := h.Stream.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to read payment stream stats", "error", err)
		respondWithError(w, h.logger, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, stats)
}
