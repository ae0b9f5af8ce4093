package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

func TestDeviceHandler(t *testing.T) {
	f := newFixture(t)
	credited := tx("cafe", "m-1", "10.5", domain.StatusApproved, fixedNow.Add(-time.Hour))
	credited.RawStatus = "credited"
	f.seed(t,
		credited,
		tx("cafe", "p-2", "3", domain.StatusApproved, fixedNow.Add(-2*time.Hour)),
		tx("cafe", "p-3", "99", domain.StatusPending, fixedNow),
		tx("bakery", "b-1", "7", domain.StatusApproved, fixedNow),
	)
	h := NewDeviceHandler(f.dashboard, art, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/payments?token=dev-cafe", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `[
		{"id":"m-1","estado":"credited","monto":10.50,"fecha":"2025-01-06 17:00:00","nombre":"Ana"},
		{"id":"p-2","estado":"approved","monto":3.00,"fecha":"2025-01-06 16:00:00","nombre":"Ana"}
	]`, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"monto":10.50`)
}

func TestDeviceHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		storeErr   error
		wantStatus int
		wantBody   string
	}{
		{"missing token", "/api/payments", nil, http.StatusBadRequest, `{"error":"token required"}`},
		{"unknown token", "/api/payments?token=nope", nil, http.StatusNotFound, `{"error":"not found"}`},
		{"inactive tenant", "/api/payments?token=DEV-CLOSED", nil, http.StatusForbidden, `{"error":"forbidden"}`},
		{"bad limit", "/api/payments?token=DEV-CAFE&limit=ten", nil, http.StatusBadRequest, `{"error":"limit must be a number"}`},
		{"store down", "/api/payments?token=DEV-CAFE", errors.New("connection refused"), http.StatusServiceUnavailable, `{"error":"query unavailable"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.QueryErr = tt.storeErr
			h := NewDeviceHandler(f.dashboard, art, discardLogger())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, http.NoBody))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestDeviceHandler_EmptyFeedIsArray(t *testing.T) {
	f := newFixture(t)
	h := NewDeviceHandler(f.dashboard, art, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/payments?token=DEV-CAFE", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
