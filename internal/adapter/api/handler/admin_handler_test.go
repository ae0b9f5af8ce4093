package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisrepo "github.com/Wilsonc7/mp-notifier/internal/adapter/repository/redis"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
	"github.com/Wilsonc7/mp-notifier/internal/domain/mocks"
	"github.com/Wilsonc7/mp-notifier/internal/usecase"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

type staticScheduler usecase.SchedulerStatus

func (s staticScheduler) Status() usecase.SchedulerStatus { return usecase.SchedulerStatus(s) }

type streamFunc func(ctx context.Context) (*redisrepo.StreamStats, error)

func (f streamFunc) Stats(ctx context.Context) (*redisrepo.StreamStats, error) { return f(ctx) }

func TestAdminHandler_HealthCheck(t *testing.T) {
	spool := &mocks.MockSpoolRepository{}
	h := NewAdminHandler(pingerFunc(func(context.Context) error { return nil }), discardLogger())
	h.Spool = spool

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","database":"ok","spool_pending":false}`, rec.Body.String())

	h.DB = pingerFunc(func(context.Context) error { return errors.New("dial tcp: refused") })
	require.NoError(t, spool.Write(context.Background(), domain.SpoolRecord{TenantKey: "cafe"}))

	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","database":"unreachable","spool_pending":true}`, rec.Body.String())
}

type staticCircuits map[string]string

func (c staticCircuits) CircuitStates() map[string]string { return c }

type clientCount int

func (c clientCount) Clients() int { return int(c) }

func TestAdminHandler_HealthCheckReportsEventsAndCircuits(t *testing.T) {
	h := NewAdminHandler(nil, discardLogger())
	h.Events = clientCount(3)
	h.Circuits = staticCircuits{"cafe": "closed", "kiosk": "half_open", "bakery": "open"}

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","database":"ok","spool_pending":false,
		"sse_clients":3,"open_circuits":["bakery","kiosk"]}`, rec.Body.String())
}

func TestAdminHandler_SchedulerStatus(t *testing.T) {
	h := NewAdminHandler(nil, discardLogger())

	rec := httptest.NewRecorder()
	h.SchedulerStatus(rec, httptest.NewRequest(http.MethodGet, "/admin/scheduler", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.Scheduler = staticScheduler{State: usecase.StatePolling, Cycles: 3, Inserted: 7}
	rec = httptest.NewRecorder()
	h.SchedulerStatus(rec, httptest.NewRequest(http.MethodGet, "/admin/scheduler", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"polling"`)
	assert.Contains(t, rec.Body.String(), `"cycles":3`)
	assert.Contains(t, rec.Body.String(), `"inserted":7`)
}

func TestAdminHandler_StreamStats(t *testing.T) {
	h := NewAdminHandler(nil, discardLogger())

	rec := httptest.NewRecorder()
	h.StreamStats(rec, httptest.NewRequest(http.MethodGet, "/admin/stream", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.Stream = streamFunc(func(context.Context) (*redisrepo.StreamStats, error) {
		return &redisrepo.StreamStats{Stream: "payments:approved", Length: 42, Groups: []redisrepo.GroupStats{}}, nil
	})
	rec = httptest.NewRecorder()
	h.StreamStats(rec, httptest.NewRequest(http.MethodGet, "/admin/stream", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stream":"payments:approved","length":42,"groups":[]}`, rec.Body.String())

	h.Stream = streamFunc(func(context.Context) (*redisrepo.StreamStats, error) { return nil, errors.New("redis down") })
	rec = httptest.NewRecorder()
	h.StreamStats(rec, httptest.NewRequest(http.MethodGet, "/admin/stream", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
