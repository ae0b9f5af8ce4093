package domain

import (
	"context"
	"time"
)

// Role defines the permission level of a tenant account.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleClient
}

// Tenant represents one registered business.
type Tenant struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	DeviceToken string `json:"device_token"`
	// SealedCredential is the provider access token encrypted at rest.
	SealedCredential []byte    `json:"-"`
	PasswordHash     string    `json:"-"`
	Role             Role      `json:"role"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasCredential reports whether a provider credential is stored.
func (t *Tenant) HasCredential() bool {
	return len(t.SealedCredential) > 0
}

// Pollable reports whether the scheduler should fetch transactions for the tenant.
func (t *Tenant) Pollable() bool {
	return t.Active && t.Role == RoleClient && t.HasCredential()
}

// TenantRepository defines the interface for tenant persistence.
// Lookups return ErrNotFound when no tenant matches.
type TenantRepository interface {
	FindByKey(ctx context.Context, key string) (*Tenant, error)
	FindByDeviceToken(ctx context.Context, token string) (*Tenant, error)
	// FindByLogin matches the identifier case-insensitively against the key or the device token.
	FindByLogin(ctx context.Context, identifier string) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)
	// Upsert inserts or fully replaces a tenant. It returns ErrConflict when the
	// device token is used by another tenant.
	Upsert(ctx context.Context, t *Tenant) error
	SetActive(ctx context.Context, key string, active bool) error
	UpdateCredential(ctx context.Context, key string, sealed []byte) error
	UpdatePasswordHash(ctx context.Context, key, hash string) error
}
