package domain

import (
	"context"
	"time"
)

// TransactionRepository is the durable, deduplicating transaction store.
// Every I/O failure is returned as a *StorageError.
type TransactionRepository interface {
	// Insert stores tx unless a record with the same (tenant, id) exists.
	// It reports whether this call created the record.
	Insert(ctx context.Context, tx Transaction) (bool, error)

	// Record inserts a batch for one tenant and returns the records that were new.
	Record(ctx context.Context, tenantKey string, txs []Transaction) ([]Transaction, error)

	// Query returns every transaction of the tenant inside the range, newest first.
	Query(ctx context.Context, tenantKey string, r DateRange) ([]Transaction, error)

	// Latest returns the newest transactions of the tenant with the given status.
	Latest(ctx context.Context, tenantKey string, status Status, limit int) ([]Transaction, error)
}

// FetchOptions narrows a provider fetch.
type FetchOptions struct {
	Range  *DateRange
	Limit  int
	Status string
}

// ProviderClient fetches a tenant's recent transactions from the payment provider.
// Implementations never fail: upstream problems yield an empty slice.
type ProviderClient interface {
	Fetch(ctx context.Context, tenantKey, credential string, opts FetchOptions) []Transaction
}

// CredentialSealer encrypts provider credentials at rest.
type CredentialSealer interface {
	Seal(plaintext string) ([]byte, error)
	Open(sealed []byte) (string, error)
}

// Notifier publishes newly recorded transactions.
type Notifier interface {
	Notify(ctx context.Context, tenantKey string, txs []Transaction) error
}

// SpoolRecord is a batch that could not reach the store.
type SpoolRecord struct {
	TenantKey    string        `json:"tenant_key"`
	Transactions []Transaction `json:"transactions"`
	SpooledAt    time.Time     `json:"spooled_at"`
}

// SpoolRepository is the on-disk fallback used while the store is unavailable.
type SpoolRepository interface {
	// Write appends a batch to the spool.
	Write(ctx context.Context, rec SpoolRecord) error

	// Replay reads spooled batches in write order and hands each to handler.
	Replay(ctx context.Context, handler func(rec SpoolRecord) error) error

	// Truncate removes every replayed batch.
	Truncate(ctx context.Context) error

	// Pending reports whether the spool holds any batch.
	Pending() bool
}

// Lease grants exclusive polling to one replica at a time.
type Lease interface {
	// Acquire obtains or renews the lease for ttl and reports whether it is held.
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}
