package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
	"github.com/Wilsonc7/mp-notifier/internal/domain/mocks"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/auth"
)

func newTestTenantAdmin(tenants ...*domain.Tenant) (*TenantAdmin, *mocks.MockTenantRepository, *RefreshCache, *mocks.MockProviderClient) {
	repo := mocks.NewMockTenantRepository(tenants...)
	provider := mocks.NewMockProviderClient()
	cache := NewRefreshCache(provider, time.Hour, discardLogger(), nil)
	return NewTenantAdmin(repo, plainSealer{}, cache, discardLogger()), repo, cache, provider
}

func TestTenantAdmin_Upsert_Create(t *testing.T) {
	admin, repo, _, _ := newTestTenantAdmin()

	saved, err := admin.Upsert(context.Background(), "cafe", TenantInput{
		Name:        "Cafe Central",
		DeviceToken: "DEV-CAFE",
		Password:    "s3cret",
		Credential:  "APP_USR-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleClient, saved.Role)
	assert.True(t, saved.Active)

	stored, err := repo.FindByKey(context.Background(), "cafe")
	require.NoError(t, err)
	assert.Equal(t, "Cafe Central", stored.Name)
	assert.True(t, auth.CheckPasswordHash("s3cret", stored.PasswordHash))
	assert.Equal(t, "APP_USR-1", string(stored.SealedCredential))
	assert.True(t, stored.Pollable())
}

func TestTenantAdmin_Upsert_BlankFieldsKeepStoredValues(t *testing.T) {
	existing := clientTenant("cafe")
	existing.PasswordHash = "old-hash"
	admin, repo, _, _ := newTestTenantAdmin(existing)

	inactive := false
	_, err := admin.Upsert(context.Background(), "cafe", TenantInput{Name: "Renamed", Active: &inactive})
	require.NoError(t, err)

	stored, err := repo.FindByKey(context.Background(), "cafe")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
	assert.Equal(t, "old-hash", stored.PasswordHash)
	assert.Equal(t, "tok-cafe", string(stored.SealedCredential))
	assert.False(t, stored.Active)
}

func TestTenantAdmin_Upsert_Validation(t *testing.T) {
	other := clientTenant("bakery")
	other.DeviceToken = "DEV-1"
	admin, _, _, _ := newTestTenantAdmin(other)

	tests := []struct {
		name    string
		key     string
		in      TenantInput
		wantErr error
	}{
		{"blank key", " ", TenantInput{Password: "x"}, domain.ErrBadInput},
		{"new tenant without password", "cafe", TenantInput{Name: "Cafe"}, domain.ErrBadInput},
		{"unknown role", "cafe", TenantInput{Password: "x", Role: "root"}, domain.ErrBadInput},
		{"device token taken", "cafe", TenantInput{Password: "x", DeviceToken: "dev-1"}, domain.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := admin.Upsert(context.Background(), tt.key, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTenantAdmin_ActiveFlag(t *testing.T) {
	admin, repo, _, _ := newTestTenantAdmin(clientTenant("cafe"))

	require.NoError(t, admin.Deactivate(context.Background(), "cafe"))
	stored, err := repo.FindByKey(context.Background(), "cafe")
	require.NoError(t, err)
	assert.False(t, stored.Active, "deactivation keeps the record")

	require.NoError(t, admin.Activate(context.Background(), "cafe"))
	stored, err = repo.FindByKey(context.Background(), "cafe")
	require.NoError(t, err)
	assert.True(t, stored.Active)

	assert.ErrorIs(t, admin.Deactivate(context.Background(), "ghost"), domain.ErrNotFound)
}

func TestTenantAdmin_RotateCredential(t *testing.T) {
	admin, repo, cache, provider := newTestTenantAdmin(clientTenant("cafe"))

	cache.Get(context.Background(), "cafe", StaticCredential("tok-cafe"))
	require.Equal(t, 1, provider.CallCount("cafe"))

	require.NoError(t, admin.RotateCredential(context.Background(), "cafe", " APP_USR-2 "))

	stored, err := repo.FindByKey(context.Background(), "cafe")
	require.NoError(t, err)
	assert.Equal(t, "APP_USR-2", string(stored.SealedCredential))

	cache.Get(context.Background(), "cafe", StaticCredential("APP_USR-2"))
	assert.Equal(t, 2, provider.CallCount("cafe"), "rotation drops the cached snapshot")

	assert.ErrorIs(t, admin.RotateCredential(context.Background(), "cafe", ""), domain.ErrBadInput)
	assert.ErrorIs(t, admin.RotateCredential(context.Background(), "ghost", "x"), domain.ErrNotFound)
}

func TestTenantAdmin_SealFailure(t *testing.T) {
	repo := mocks.NewMockTenantRepository(clientTenant("cafe"))
	admin := NewTenantAdmin(repo, failingSealer{}, nil, discardLogger())

	err := admin.RotateCredential(context.Background(), "cafe", "APP_USR-2")
	require.Error(t, err)

	stored, err := repo.FindByKey(context.Background(), "cafe")
	require.NoError(t, err)
	assert.Equal(t, "tok-cafe", string(stored.SealedCredential))
}

type failingSealer struct{}

func (failingSealer) Seal(string) ([]byte, error) { return nil, errors.New("no entropy") }
func (failingSealer) Open([]byte) (string, error) { return "", errors.New("no key") }
