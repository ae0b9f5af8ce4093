package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

// MockTransactionRepository is an in-memory domain.TransactionRepository for testing.
type MockTransactionRepository struct {
	mu       sync.Mutex
	Rows     map[string]domain.Transaction // keyed by tenant + "/" + id
	Location *time.Location
	// InsertErr and QueryErr are returned wrapped in a *domain.StorageError.
	InsertErr   error
	QueryErr    error
	RecordCalls int
	QueryCalls  int
}

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{Rows: map[string]domain.Transaction{}, Location: time.UTC}
}

func (m *MockTransactionRepository) Insert(ctx context.Context, tx domain.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return false, domain.NewStorageError("insert transaction", m.InsertErr)
	}
	return m.insertLocked(tx), nil
}

func (m *MockTransactionRepository) Record(ctx context.Context, tenantKey string, txs []domain.Transaction) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordCalls++
	if m.InsertErr != nil {
		return nil, domain.NewStorageError("record transactions", m.InsertErr)
	}
	var inserted []domain.Transaction
	for _, tx := range txs {
		tx.TenantKey = tenantKey
		if m.insertLocked(tx) {
			inserted = append(inserted, tx)
		}
	}
	return inserted, nil
}

func (m *MockTransactionRepository) insertLocked(tx domain.Transaction) bool {
	if m.Rows == nil {
		m.Rows = map[string]domain.Transaction{}
	}
	key := tx.TenantKey + "/" + tx.ID
	if _, ok := m.Rows[key]; ok {
		return false
	}
	m.Rows[key] = tx
	return true
}

func (m *MockTransactionRepository) Query(ctx context.Context, tenantKey string, r domain.DateRange) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryCalls++
	if m.QueryErr != nil {
		return nil, domain.NewStorageError("query transactions", m.QueryErr)
	}
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	start, end := r.Bounds(loc)
	return m.selectLocked(func(tx domain.Transaction) bool {
		return tx.TenantKey == tenantKey && !tx.CreatedAt.Before(start) && tx.CreatedAt.Before(end)
	}, 0), nil
}

func (m *MockTransactionRepository) Latest(ctx context.Context, tenantKey string, status domain.Status, limit int) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return nil, domain.NewStorageError("latest transactions", m.QueryErr)
	}
	return m.selectLocked(func(tx domain.Transaction) bool {
		return tx.TenantKey == tenantKey && tx.Status == status
	}, limit), nil
}

func (m *MockTransactionRepository) selectLocked(keep func(domain.Transaction) bool, limit int) []domain.Transaction {
	out := []domain.Transaction{}
	for _, tx := range m.Rows {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len returns the number of stored transactions.
func (m *MockTransactionRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Rows)
}

// MockTenantRepository is an in-memory domain.TenantRepository for testing.
type MockTenantRepository struct {
	mu                 sync.Mutex
	Tenants            map[string]*domain.Tenant
	Err                error
	DeviceTokenLookups int
}

func NewMockTenantRepository(tenants ...*domain.Tenant) *MockTenantRepository {
	m := &MockTenantRepository{Tenants: map[string]*domain.Tenant{}}
	for _, t := range tenants {
		m.Tenants[t.Key] = t
	}
	return m
}

func (m *MockTenantRepository) FindByKey(ctx context.Context, key string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	t, ok := m.Tenants[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockTenantRepository) FindByDeviceToken(ctx context.Context, token string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeviceTokenLookups++
	if m.Err != nil {
		return nil, m.Err
	}
	for _, t := range m.Tenants {
		if t.DeviceToken != "" && strings.EqualFold(t.DeviceToken, token) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockTenantRepository) FindByLogin(ctx context.Context, identifier string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, t := range m.Tenants {
		if strings.EqualFold(t.Key, identifier) {
			cp := *t
			return &cp, nil
		}
	}
	for _, t := range m.Tenants {
		if t.DeviceToken != "" && strings.EqualFold(t.DeviceToken, identifier) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockTenantRepository) List(ctx context.Context) ([]*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]*domain.Tenant, 0, len(m.Tenants))
	for _, t := range m.Tenants {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MockTenantRepository) Upsert(ctx context.Context, t *domain.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for key, other := range m.Tenants {
		if key != t.Key && t.DeviceToken != "" && strings.EqualFold(other.DeviceToken, t.DeviceToken) {
			return domain.ErrConflict
		}
	}
	cp := *t
	if existing, ok := m.Tenants[t.Key]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	m.Tenants[t.Key] = &cp
	return nil
}

func (m *MockTenantRepository) SetActive(ctx context.Context, key string, active bool) error {
	return m.update(key, func(t *domain.Tenant) { t.Active = active })
}

func (m *MockTenantRepository) UpdateCredential(ctx context.Context, key string, sealed []byte) error {
	return m.update(key, func(t *domain.Tenant) { t.SealedCredential = sealed })
}

func (m *MockTenantRepository) UpdatePasswordHash(ctx context.Context, key, hash string) error {
	return m.update(key, func(t *domain.Tenant) { t.PasswordHash = hash })
}

func (m *MockTenantRepository) update(key string, fn func(t *domain.Tenant)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	t, ok := m.Tenants[key]
	if !ok {
		return domain.ErrNotFound
	}
	fn(t)
	return nil
}

// MockProviderClient returns canned transactions per tenant.
type MockProviderClient struct {
	mu        sync.Mutex
	Responses map[string][]domain.Transaction
	// FetchFunc, when set, overrides Responses.
	FetchFunc func(ctx context.Context, tenantKey, credential string, opts domain.FetchOptions) []domain.Transaction
	Calls     map[string]int
	LastOpts  domain.FetchOptions
}

func NewMockProviderClient() *MockProviderClient {
	return &MockProviderClient{Responses: map[string][]domain.Transaction{}, Calls: map[string]int{}}
}

func (m *MockProviderClient) Fetch(ctx context.Context, tenantKey, credential string, opts domain.FetchOptions) []domain.Transaction {
	m.mu.Lock()
	if m.Calls == nil {
		m.Calls = map[string]int{}
	}
	m.Calls[tenantKey]++
	m.LastOpts = opts
	fn := m.FetchFunc
	resp := m.Responses[tenantKey]
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, tenantKey, credential, opts)
	}
	out := make([]domain.Transaction, len(resp))
	copy(out, resp)
	return out
}

// CallCount returns how many fetches were made for the tenant.
func (m *MockProviderClient) CallCount(tenantKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[tenantKey]
}

// MockNotifier records every notification.
type MockNotifier struct {
	mu       sync.Mutex
	Notified map[string][]domain.Transaction
	Err      error
}

func (m *MockNotifier) Notify(ctx context.Context, tenantKey string, txs []domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.Notified == nil {
		m.Notified = map[string][]domain.Transaction{}
	}
	m.Notified[tenantKey] = append(m.Notified[tenantKey], txs...)
	return nil
}

// For returns the transactions notified for the tenant.
func (m *MockNotifier) For(tenantKey string) []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Notified[tenantKey]
}

// MockSpoolRepository is an in-memory domain.SpoolRepository.
type MockSpoolRepository struct {
	mu       sync.Mutex
	Records  []domain.SpoolRecord
	WriteErr error
}

func (m *MockSpoolRepository) Write(ctx context.Context, rec domain.SpoolRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Records = append(m.Records, rec)
	return nil
}

func (m *MockSpoolRepository) Replay(ctx context.Context, handler func(rec domain.SpoolRecord) error) error {
	m.mu.Lock()
	records := append([]domain.SpoolRecord(nil), m.Records...)
	m.mu.Unlock()
	for _, rec := range records {
		if err := handler(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockSpoolRepository) Truncate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = nil
	return nil
}

func (m *MockSpoolRepository) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Records) > 0
}

// MockLease grants or denies the polling lease.
type MockLease struct {
	mu       sync.Mutex
	Held     bool
	Deny     bool
	Err      error
	Acquires int
	Released bool
}

func (m *MockLease) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Acquires++
	if m.Err != nil {
		return false, m.Err
	}
	m.Held = !m.Deny
	return m.Held, nil
}

func (m *MockLease) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Held = false
	m.Released = true
	return nil
}
