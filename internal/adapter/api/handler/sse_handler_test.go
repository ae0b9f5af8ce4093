package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/notifier"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

// subscribe opens the event stream as the given tenant and returns a reader of its data lines.
func subscribe(t *testing.T, broker *SSEBroker, key string, role domain.Role) <-chan string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		broker.ServeHTTP(w, asTenant(r, key, role))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				lines <- data
			}
		}
	}()
	return lines
}

func nextEvent(t *testing.T, lines <-chan string) notifier.PaymentEvent {
	t.Helper()
	select {
	case line := <-lines:
		var ev notifier.PaymentEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return notifier.PaymentEvent{}
	}
}

func TestSSEBroker_ScopesEventsByTenant(t *testing.T) {
	broker := NewSSEBroker(discardLogger(), time.Minute)
	cafe := subscribe(t, broker, "cafe", domain.RoleClient)
	admin := subscribe(t, broker, "admin", domain.RoleAdmin)
	require.Eventually(t, func() bool { return broker.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, broker.Notify(ctx, "bakery", []domain.Transaction{
		tx("bakery", "b-1", "7", domain.StatusApproved, fixedNow),
	}))
	require.NoError(t, broker.Notify(ctx, "cafe", []domain.Transaction{
		tx("cafe", "c-1", "12.5", domain.StatusApproved, fixedNow),
	}))

	ev := nextEvent(t, cafe)
	assert.Equal(t, "c-1", ev.ID, "a client never sees another tenant's payment")
	assert.Equal(t, "12.50", ev.Amount)

	assert.Equal(t, "b-1", nextEvent(t, admin).ID)
	assert.Equal(t, "c-1", nextEvent(t, admin).ID)
}

func TestSSEBroker_DisconnectRemovesClient(t *testing.T) {
	broker := NewSSEBroker(discardLogger(), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	req := asTenant(httptest.NewRequest(http.MethodGet, "/api/events", http.NoBody).WithContext(ctx), "cafe", domain.RoleClient)
	done := make(chan struct{})
	go func() {
		defer close(done)
		broker.ServeHTTP(httptest.NewRecorder(), req)
	}()

	require.Eventually(t, func() bool { return broker.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.Zero(t, broker.Clients())

	// Notifying with no subscribers is a no-op.
	assert.NoError(t, broker.Notify(context.Background(), "cafe", []domain.Transaction{tx("cafe", "c-1", "1", domain.StatusApproved, fixedNow)}))
}

func TestSSEBroker_RequiresSession(t *testing.T) {
	broker := NewSSEBroker(discardLogger(), time.Minute)
	rec := httptest.NewRecorder()
	broker.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
