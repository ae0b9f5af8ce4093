// Package cached decorates the tenant repository with an in-process device token cache.
package cached

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/metrics"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

// TenantRepository serves FindByDeviceToken from a ristretto cache. Devices poll
// every few seconds, so this lookup is the hottest read in the service.
// Any write clears the whole cache; writes are rare admin operations.
type TenantRepository struct {
	domain.TenantRepository
	cache   *ristretto.Cache[string, domain.Tenant]
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	// mu orders cache fills against invalidation. gen counts invalidations so a
	// lookup that raced a write does not cache the row it read before the write.
	mu  sync.Mutex
	gen uint64
}

// NewTenantRepository wraps next. m may be nil.
func NewTenantRepository(next domain.TenantRepository, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) (*TenantRepository, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, domain.Tenant]{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
		// Each entry costs 1, so MaxCost caps the entry count.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create tenant cache: %w", err)
	}
	return &TenantRepository{
		TenantRepository: next,
		cache:            c,
		ttl:              ttl,
		logger:           logger.With("component", "tenant_cache"),
		metrics:          m,
	}, nil
}

func (r *TenantRepository) FindByDeviceToken(ctx context.Context, token string) (*domain.Tenant, error) {
	key := strings.ToLower(token)
	if t, ok := r.cache.Get(key); ok {
		if r.metrics != nil {
			r.metrics.TenantCacheHits.Inc()
		}
		return &t, nil
	}
	if r.metrics != nil {
		r.metrics.TenantCacheMisses.Inc()
	}

	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	t, err := r.TenantRepository.FindByDeviceToken(ctx, token)
	if err != nil {
		// Misses and storage errors are not cached.
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		r.logger.Debug("tenant changed during lookup, not caching", "tenant", t.Key)
		return t, nil
	}
	r.cache.SetWithTTL(key, *t, 1, r.ttl)
	r.cache.Wait()
	return t, nil
}

func (r *TenantRepository) Upsert(ctx context.Context, t *domain.Tenant) error {
	defer r.invalidate()
	return r.TenantRepository.Upsert(ctx, t)
}

func (r *TenantRepository) SetActive(ctx context.Context, key string, active bool) error {
	defer r.invalidate()
	return r.TenantRepository.SetActive(ctx, key, active)
}

func (r *TenantRepository) UpdateCredential(ctx context.Context, key string, sealed []byte) error {
	defer r.invalidate()
	return r.TenantRepository.UpdateCredential(ctx, key, sealed)
}

func (r *TenantRepository) UpdatePasswordHash(ctx context.Context, key, hash string) error {
	defer r.invalidate()
	return r.TenantRepository.UpdatePasswordHash(ctx, key, hash)
}

func (r *TenantRepository) invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.cache.Clear()
}

// Close releases the cache goroutines.
func (r *TenantRepository) Close() {
	r.cache.Close()
}
