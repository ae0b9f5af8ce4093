package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/metrics"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

// Recorder receives freshly fetched transactions so on-demand refreshes also reach the store.
type Recorder interface {
	Record(ctx context.Context, tenantKey string, txs []domain.Transaction) (int, error)
}

// CredentialFunc yields a tenant's provider credential. The cache calls it only
// when it is about to fetch, so the plaintext never exists on a hit.
type CredentialFunc func() (string, error)

// StaticCredential returns a CredentialFunc for an already known credential.
func StaticCredential(credential string) CredentialFunc {
	return func() (string, error) { return credential, nil }
}

// RefreshCache keeps one provider snapshot per tenant for a short window.
// Within the window every caller gets the same *domain.Snapshot; after it, the
// next caller refetches synchronously. Concurrent misses for one tenant share
// a single upstream call.
type RefreshCache struct {
	provider  domain.ProviderClient
	window    time.Duration
	fetchOpts domain.FetchOptions
	recorder  Recorder
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu      sync.RWMutex
	entries map[string]*domain.Snapshot
	flight  singleflight.Group
}

// NewRefreshCache creates a cache in front of provider. m may be nil.
func NewRefreshCache(provider domain.ProviderClient, window time.Duration, logger *slog.Logger, m *metrics.Metrics) *RefreshCache {
	return &RefreshCache{
		provider: provider,
		window:   window,
		logger:   logger.With("component", "refresh_cache"),
		metrics:  m,
		now:      time.Now,
		entries:  make(map[string]*domain.Snapshot),
	}
}

// SetRecorder hands every fetched batch to r. Call it before serving traffic.
func (c *RefreshCache) SetRecorder(r Recorder) {
	c.recorder = r
}

// Get returns the tenant's snapshot, refetching it when older than the window.
// It never returns nil.
func (c *RefreshCache) Get(ctx context.Context, tenantKey string, credential CredentialFunc) *domain.Snapshot {
	if snap := c.fresh(tenantKey); snap != nil {
		if c.metrics != nil {
			c.metrics.RefreshCacheHits.Inc()
		}
		return snap
	}
	if c.metrics != nil {
		c.metrics.RefreshCacheMisses.Inc()
	}

	// The fetch is shared by every waiter, so it must not die with the first caller.
	fetchCtx := context.WithoutCancel(ctx)
	v, _, _ := c.flight.Do(tenantKey, func() (interface{}, error) {
		if snap := c.fresh(tenantKey); snap != nil {
			return snap, nil
		}
		return c.refresh(fetchCtx, tenantKey, credential), nil
	})
	return v.(*domain.Snapshot)
}

// Invalidate drops the tenant's snapshot, e.g. after a credential rotation.
func (c *RefreshCache) Invalidate(tenantKey string) {
	c.mu.Lock()
	delete(c.entries, tenantKey)
	c.mu.Unlock()
}

func (c *RefreshCache) fresh(tenantKey string) *domain.Snapshot {
	c.mu.RLock()
	snap, ok := c.entries[tenantKey]
	c.mu.RUnlock()
	if ok && c.now().Sub(snap.FetchedAt) < c.window {
		return snap
	}
	return nil
}

// refresh fetches with a credential opened just for this call. A credential
// that cannot be opened yields an empty snapshot, like any other soft failure.
func (c *RefreshCache) refresh(ctx context.Context, tenantKey string, credential CredentialFunc) *domain.Snapshot {
	plain, err := credential()
	if err != nil {
		c.logger.Warn("failed to open tenant credential", "tenant", tenantKey, "error", err)
		plain = ""
	}
	txs := c.provider.Fetch(ctx, tenantKey, plain, c.fetchOpts)
	if txs == nil {
		txs = []domain.Transaction{}
	}
	snap := &domain.Snapshot{
		TenantKey:    tenantKey,
		FetchedAt:    c.now(),
		Transactions: txs,
	}

	c.mu.Lock()
	c.entries[tenantKey] = snap
	c.mu.Unlock()

	if c.recorder != nil && len(txs) > 0 {
		if _, err := c.recorder.Record(ctx, tenantKey, txs); err != nil {
			c.logger.Warn("failed to record refreshed transactions", "tenant", tenantKey, "error", err)
		}
	}
	return snap
}
