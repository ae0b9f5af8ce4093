package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
	"github.com/Wilsonc7/mp-notifier/internal/domain/mocks"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/auth"
)

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := auth.HashPassword(password)
	require.NoError(t, err)
	return h
}

func TestAuth_Login(t *testing.T) {
	cafe := clientTenant("cafe")
	cafe.DeviceToken = "DEV-CAFE"
	cafe.PasswordHash = hashed(t, "s3cret")
	closed := clientTenant("closed")
	closed.PasswordHash = hashed(t, "s3cret")
	closed.Active = false

	tenants := mocks.NewMockTenantRepository(cafe, closed)
	issuer := auth.NewTokenIssuer("jwt-secret", time.Hour)
	a := NewAuth(tenants, issuer, discardLogger())

	tests := []struct {
		name       string
		identifier string
		password   string
		wantErr    error
	}{
		{"by key", "cafe", "s3cret", nil},
		{"by key any case", "CAFE", "s3cret", nil},
		{"by device token", "dev-cafe", "s3cret", nil},
		{"trims input", "  cafe ", " s3cret ", nil},
		{"wrong password", "cafe", "nope", domain.ErrUnauthorized},
		{"unknown tenant", "ghost", "s3cret", domain.ErrUnauthorized},
		{"inactive tenant", "closed", "s3cret", domain.ErrForbidden},
		{"missing id", "", "s3cret", domain.ErrBadInput},
		{"missing password", "cafe", "  ", domain.ErrBadInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := a.Login(context.Background(), tt.identifier, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "cafe", s.TenantKey)
			assert.Equal(t, domain.RoleClient, s.Role)

			claims, err := issuer.Validate(s.Token)
			require.NoError(t, err)
			assert.Equal(t, "cafe", claims.TenantKey)
		})
	}
}

func TestAuth_Login_UpgradesLegacyHash(t *testing.T) {
	salt := "abcdefgh"
	key := pbkdf2.Key([]byte("s3cret"), []byte(salt), 1000, sha256.Size, sha256.New)
	legacy := "pbkdf2:sha256:1000$" + salt + "$" + hex.EncodeToString(key)

	admin := &domain.Tenant{Key: "admin", Role: domain.RoleAdmin, Active: true, PasswordHash: legacy}
	tenants := mocks.NewMockTenantRepository(admin)
	a := NewAuth(tenants, auth.NewTokenIssuer("jwt-secret", time.Hour), discardLogger())

	s, err := a.Login(context.Background(), "admin", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, s.Role)

	stored, err := tenants.FindByKey(context.Background(), "admin")
	require.NoError(t, err)
	assert.False(t, auth.IsLegacyHash(stored.PasswordHash))
	assert.True(t, auth.CheckPasswordHash("s3cret", stored.PasswordHash))

	// The upgraded hash keeps working.
	_, err = a.Login(context.Background(), "admin", "s3cret")
	require.NoError(t, err)
}

func TestAuth_Login_StorageError(t *testing.T) {
	tenants := mocks.NewMockTenantRepository()
	tenants.Err = domain.NewStorageError("find tenant", errors.New("down"))
	a := NewAuth(tenants, auth.NewTokenIssuer("jwt-secret", time.Hour), discardLogger())

	_, err := a.Login(context.Background(), "cafe", "s3cret")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, domain.ErrUnauthorized)
}
