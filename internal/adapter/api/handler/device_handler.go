package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

// DeviceFeeder returns the newest approved payments of a device's tenant.
type DeviceFeeder interface {
	DeviceFeed(ctx context.Context, token string, limit int) ([]domain.Transaction, error)
}

// devicePayment is the JSON contract of the embedded display.
type devicePayment struct {
	ID     string      `json:"id"`
	Estado string      `json:"estado"`
	Monto  json.Number `json:"monto"`
	Fecha  string      `json:"fecha"`
	Nombre string      `json:"nombre"`
}

// DeviceHandler serves GET /api/payments?token=&limit=.
type DeviceHandler struct {
	feed   DeviceFeeder
	loc    *time.Location
	logger *slog.Logger
}

func NewDeviceHandler(feed DeviceFeeder, loc *time.Location, logger *slog.Logger) *DeviceHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &DeviceHandler{feed: feed, loc: loc, logger: logger}
}

func (h *DeviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))

	limit, ok := intParam(w, r, h.logger, "limit")
	if !ok {
		return
	}

	txs, err := h.feed.DeviceFeed(r.Context(), token, limit)
	if err != nil {
		respondWithDomainError(w, r, h.logger, err)
		return
	}

	out := make([]devicePayment, 0, len(txs))
	for _, tx := range txs {
		out = append(out, h.toDevice(tx))
	}
	respondWithJSON(w, h.logger, http.StatusOK, out)
}

func (h *DeviceHandler) toDevice(tx domain.Transaction) devicePayment {
	estado := tx.RawStatus
	if estado == "" {
		estado = string(tx.Status)
	}
	fecha := tx.LocalTime
	if fecha == "" && !tx.CreatedAt.IsZero() {
		fecha = tx.CreatedAt.In(h.loc).Format(domain.LocalTimeLayout)
	}
	return devicePayment{
		ID:     tx.ID,
		Estado: estado,
		Monto:  json.Number(tx.Amount.StringFixed(2)),
		Fecha:  fecha,
		Nombre: tx.PayerName,
	}
}
