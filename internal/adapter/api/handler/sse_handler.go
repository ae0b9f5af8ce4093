package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/api/middleware"
	"github.com/Wilsonc7/mp-notifier/internal/adapter/notifier"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

const (
	clientBuffer     = 16
	defaultHeartbeat = 15 * time.Second
)

// SSEBroker streams newly recorded approved payments to logged-in dashboards.
// It implements domain.Notifier. Clients see only their own tenant's payments;
// admins see every tenant.
type SSEBroker struct {
	logger    *slog.Logger
	heartbeat time.Duration

	mu      sync.RWMutex
	clients map[chan []byte]string // channel -> tenant key, "" for admins
}

// NewSSEBroker creates a broker. heartbeat <= 0 uses 15s.
func NewSSEBroker(logger *slog.Logger, heartbeat time.Duration) *SSEBroker {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &SSEBroker{
		logger:    logger.With("component", "sse"),
		heartbeat: heartbeat,
		clients:   make(map[chan []byte]string),
	}
}

// ServeHTTP handles GET /api/events.
func (b *SSEBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		respondWithError(w, b.logger, http.StatusUnauthorized, "authorization required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, b.logger, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	scope := claims.TenantKey
	if claims.Role == domain.RoleAdmin {
		scope = ""
	}
	messages := make(chan []byte, clientBuffer)
	b.addClient(messages, scope)
	defer b.removeClient(messages)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-messages:
			fmt.Fprintf(w, "event: payment\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// Notify broadcasts each transaction to the subscribers of its tenant. Slow
// clients drop messages instead of blocking ingestion.
func (b *SSEBroker) Notify(ctx context.Context, tenantKey string, txs []domain.Transaction) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.clients) == 0 {
		return nil
	}

	for _, tx := range txs {
		msg, err := json.Marshal(notifier.NewPaymentEvent(tenantKey, tx))
		if err != nil {
			return fmt.Errorf("marshal payment event: %w", err)
		}
		for client, scope := range b.clients {
			if scope != "" && scope != tenantKey {
				continue
			}
			select {
			case client <- msg:
			default:
				b.logger.Warn("SSE client too slow, dropping payment", "tenant", tenantKey, "id", tx.ID)
			}
		}
	}
	return nil
}

// Clients returns the number of connected subscribers.
func (b *SSEBroker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *SSEBroker) addClient(client chan []byte, scope string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = scope
	b.logger.Debug("SSE client connected", "tenant", scope)
}

func (b *SSEBroker) removeClient(client chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, client)
	b.logger.Debug("SSE client disconnected")
}
