package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/auth"
)

// TenantInput is an admin edit of a tenant. Blank Password and Credential keep
// the stored values; a nil Active keeps the current flag.
type TenantInput struct {
	Name        string      `json:"name"`
	DeviceToken string      `json:"device_token"`
	Role        domain.Role `json:"role"`
	Active      *bool       `json:"active"`
	Password    string      `json:"password"`
	Credential  string      `json:"credential"`
}

// TenantAdmin manages tenant accounts.
type TenantAdmin struct {
	tenants domain.TenantRepository
	sealer  domain.CredentialSealer
	cache   *RefreshCache
	logger  *slog.Logger
}

// NewTenantAdmin creates a TenantAdmin. cache may be nil.
func NewTenantAdmin(tenants domain.TenantRepository, sealer domain.CredentialSealer, cache *RefreshCache, logger *slog.Logger) *TenantAdmin {
	return &TenantAdmin{
		tenants: tenants,
		sealer:  sealer,
		cache:   cache,
		logger:  logger.With("component", "tenant_admin"),
	}
}

func (a *TenantAdmin) List(ctx context.Context) ([]*domain.Tenant, error) {
	return a.tenants.List(ctx)
}

func (a *TenantAdmin) Get(ctx context.Context, key string) (*domain.Tenant, error) {
	return a.tenants.FindByKey(ctx, key)
}

// Upsert creates or edits the tenant identified by key.
func (a *TenantAdmin) Upsert(ctx context.Context, key string, in TenantInput) (*domain.Tenant, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.BadInput("tenant key required")
	}
	if in.Role == "" {
		in.Role = domain.RoleClient
	}
	if !in.Role.Valid() {
		return nil, domain.BadInput("unknown role %q", in.Role)
	}

	t, err := a.tenants.FindByKey(ctx, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if strings.TrimSpace(in.Password) == "" {
			return nil, domain.BadInput("password required for a new tenant")
		}
		t = &domain.Tenant{Key: key, Active: true}
	case err != nil:
		return nil, fmt.Errorf("load tenant: %w", err)
	}

	t.Name = strings.TrimSpace(in.Name)
	t.DeviceToken = strings.TrimSpace(in.DeviceToken)
	t.Role = in.Role
	if in.Active != nil {
		t.Active = *in.Active
	}
	if pw := strings.TrimSpace(in.Password); pw != "" {
		if t.PasswordHash, err = auth.HashPassword(pw); err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
	}
	rotated := false
	if cred := strings.TrimSpace(in.Credential); cred != "" {
		if t.SealedCredential, err = a.sealer.Seal(cred); err != nil {
			return nil, fmt.Errorf("seal credential: %w", err)
		}
		rotated = true
	}

	if err := a.tenants.Upsert(ctx, t); err != nil {
		return nil, err
	}
	if rotated {
		a.invalidate(key)
	}
	a.logger.Info("tenant saved", "tenant", key, "role", t.Role, "active", t.Active)
	return t, nil
}

func (a *TenantAdmin) Deactivate(ctx context.Context, key string) error {
	return a.setActive(ctx, key, false)
}

func (a *TenantAdmin) Activate(ctx context.Context, key string) error {
	return a.setActive(ctx, key, true)
}

func (a *TenantAdmin) setActive(ctx context.Context, key string, active bool) error {
	if err := a.tenants.SetActive(ctx, key, active); err != nil {
		return err
	}
	a.logger.Info("tenant active flag changed", "tenant", key, "active", active)
	return nil
}

// RotateCredential replaces the tenant's provider credential and drops its cached snapshot.
func (a *TenantAdmin) RotateCredential(ctx context.Context, key, credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return domain.BadInput("credential required")
	}
	sealed, err := a.sealer.Seal(credential)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}
	if err := a.tenants.UpdateCredential(ctx, key, sealed); err != nil {
		return err
	}
	a.invalidate(key)
	a.logger.Info("tenant credential rotated", "tenant", key)
	return nil
}

func (a *TenantAdmin) invalidate(key string) {
	if a.cache != nil {
		a.cache.Invalidate(key)
	}
}
