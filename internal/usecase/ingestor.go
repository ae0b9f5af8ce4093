package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/metrics"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

// ErrNoCredential is returned when a tenant without a provider credential is polled.
var ErrNoCredential = errors.New("tenant has no provider credential")

// ErrCredentialOpen wraps failures to decrypt a stored provider credential.
var ErrCredentialOpen = errors.New("open credential")

// IngestorDeps are the collaborators of an Ingestor. Notifier, Spool and Metrics are optional.
type IngestorDeps struct {
	Store    domain.TransactionRepository
	Provider domain.ProviderClient
	Sealer   domain.CredentialSealer
	Notifier domain.Notifier
	Spool    domain.SpoolRepository
	Metrics  *metrics.Metrics
	Location *time.Location
	// FetchOptions are applied to every scheduled fetch.
	FetchOptions domain.FetchOptions
}

// Ingestor moves provider transactions into the store. It is shared by the
// scheduler and by on-demand refreshes.
type Ingestor struct {
	store     domain.TransactionRepository
	provider  domain.ProviderClient
	sealer    domain.CredentialSealer
	notifier  domain.Notifier
	spool     domain.SpoolRepository
	metrics   *metrics.Metrics
	loc       *time.Location
	fetchOpts domain.FetchOptions
	logger    *slog.Logger
	now       func() time.Time

	// spoolMu keeps a replay and its truncate from interleaving with new spool writes.
	spoolMu sync.Mutex
}

func NewIngestor(deps IngestorDeps, logger *slog.Logger) *Ingestor {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Ingestor{
		store:     deps.Store,
		provider:  deps.Provider,
		sealer:    deps.Sealer,
		notifier:  deps.Notifier,
		spool:     deps.Spool,
		metrics:   deps.Metrics,
		loc:       loc,
		fetchOpts: deps.FetchOptions,
		logger:    logger.With("component", "ingestor"),
		now:       time.Now,
	}
}

// PollTenant fetches the tenant's recent transactions and records them.
// The credential is decrypted only for the duration of the call.
func (i *Ingestor) PollTenant(ctx context.Context, t *domain.Tenant) (int, error) {
	if !t.HasCredential() {
		return 0, ErrNoCredential
	}
	credential, err := i.sealer.Open(t.SealedCredential)
	if err != nil {
		return 0, fmt.Errorf("%w for %s: %w", ErrCredentialOpen, t.Key, err)
	}

	txs := i.provider.Fetch(ctx, t.Key, credential, i.fetchOpts)
	if len(txs) == 0 {
		return 0, nil
	}
	return i.Record(ctx, t.Key, txs)
}

// Record stores txs, publishes the newly approved ones and returns how many were new.
// When the store is unavailable the batch is spooled and the error returned.
func (i *Ingestor) Record(ctx context.Context, tenantKey string, txs []domain.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}
	batch := i.prepare(tenantKey, txs)

	inserted, err := i.store.Record(ctx, tenantKey, batch)
	if err != nil {
		if errors.Is(err, domain.ErrStorageUnavailable) {
			i.spoolBatch(ctx, tenantKey, batch)
		}
		return 0, fmt.Errorf("ingestion failed: %w", err)
	}

	i.count("inserted", len(inserted))
	i.count("duplicate", len(batch)-len(inserted))
	if len(inserted) > 0 {
		i.logger.Info("recorded new transactions", "tenant", tenantKey, "inserted", len(inserted), "observed", len(batch))
	}
	i.publish(ctx, tenantKey, inserted)
	return len(inserted), nil
}

// Replay moves spooled batches into the store and empties the spool.
// The spool is kept intact if any batch still fails.
func (i *Ingestor) Replay(ctx context.Context) error {
	if i.spool == nil {
		return nil
	}

	i.spoolMu.Lock()
	defer i.spoolMu.Unlock()

	if !i.spool.Pending() {
		return nil
	}

	var batches, total int
	err := i.spool.Replay(ctx, func(rec domain.SpoolRecord) error {
		inserted, err := i.store.Record(ctx, rec.TenantKey, rec.Transactions)
		if err != nil {
			return err
		}
		batches++
		total += len(inserted)
		i.count("inserted", len(inserted))
		i.publish(ctx, rec.TenantKey, inserted)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay spool: %w", err)
	}
	if err := i.spool.Truncate(ctx); err != nil {
		return fmt.Errorf("truncate spool: %w", err)
	}

	i.logger.Info("spool replayed", "batches", batches, "inserted", total)
	return nil
}

// prepare stamps the tenant and replaces unknown event times with the ingestion time.
func (i *Ingestor) prepare(tenantKey string, txs []domain.Transaction) []domain.Transaction {
	now := i.now()
	out := make([]domain.Transaction, len(txs))
	for n, tx := range txs {
		tx.TenantKey = tenantKey
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
			tx.LocalTime = now.In(i.loc).Format(domain.LocalTimeLayout)
		}
		out[n] = tx
	}
	return out
}

func (i *Ingestor) spoolBatch(ctx context.Context, tenantKey string, batch []domain.Transaction) {
	if i.spool == nil {
		return
	}

	i.spoolMu.Lock()
	defer i.spoolMu.Unlock()

	rec := domain.SpoolRecord{TenantKey: tenantKey, Transactions: batch, SpooledAt: i.now().UTC()}
	if err := i.spool.Write(ctx, rec); err != nil {
		i.logger.Error("failed to spool batch, transactions will be refetched", "tenant", tenantKey, "error", err)
		return
	}
	i.count("spooled", len(batch))
}

// publish notifies sinks about newly inserted approved transactions. Sink
// failures are logged and never fail ingestion.
func (i *Ingestor) publish(ctx context.Context, tenantKey string, inserted []domain.Transaction) {
	if i.notifier == nil {
		return
	}
	approved := make([]domain.Transaction, 0, len(inserted))
	for _, tx := range inserted {
		if tx.IsApproved() {
			approved = append(approved, tx)
		}
	}
	if len(approved) == 0 {
		return
	}
	if err := i.notifier.Notify(ctx, tenantKey, approved); err != nil {
		i.logger.Warn("failed to publish new payments", "tenant", tenantKey, "error", err)
	}
}

func (i *Ingestor) count(result string, n int) {
	if i.metrics != nil && n > 0 {
		i.metrics.TransactionsTotal.WithLabelValues(result).Add(float64(n))
	}
}
