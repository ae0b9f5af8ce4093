package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/auth"
)

// Session is the result of a successful login.
type Session struct {
	Token     string      `json:"token"`
	Role      domain.Role `json:"role"`
	TenantKey string      `json:"tenant_key"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Auth logs tenants in with their key or device token.
type Auth struct {
	tenants domain.TenantRepository
	issuer  *auth.TokenIssuer
	logger  *slog.Logger
}

func NewAuth(tenants domain.TenantRepository, issuer *auth.TokenIssuer, logger *slog.Logger) *Auth {
	return &Auth{
		tenants: tenants,
		issuer:  issuer,
		logger:  logger.With("component", "auth"),
	}
}

// Login checks the password of the tenant matching identifier and issues a
// session token. Unknown tenants and wrong passwords both yield ErrUnauthorized.
func (a *Auth) Login(ctx context.Context, identifier, password string) (*Session, error) {
	identifier = strings.TrimSpace(identifier)
	password = strings.TrimSpace(password)
	if identifier == "" || password == "" {
		return nil, domain.BadInput("id and password required")
	}

	t, err := a.tenants.FindByLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("find tenant: %w", err)
	}
	if !auth.CheckPasswordHash(password, t.PasswordHash) {
		a.logger.Info("login rejected", "tenant", t.Key)
		return nil, domain.ErrUnauthorized
	}
	if !t.Active {
		return nil, domain.ErrForbidden
	}

	if auth.IsLegacyHash(t.PasswordHash) {
		a.upgradeHash(ctx, t.Key, password)
	}

	token, expiresAt, err := a.issuer.Generate(t.Key, t.Role)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}
	return &Session{Token: token, Role: t.Role, TenantKey: t.Key, ExpiresAt: expiresAt}, nil
}

// upgradeHash replaces a legacy hash with bcrypt. Failures only cost a retry on the next login.
func (a *Auth) upgradeHash(ctx context.Context, key, password string) {
	hash, err := auth.HashPassword(password)
	if err == nil {
		err = a.tenants.UpdatePasswordHash(ctx, key, hash)
	}
	if err != nil {
		a.logger.Warn("failed to upgrade legacy password hash", "tenant", key, "error", err)
		return
	}
	a.logger.Info("upgraded legacy password hash", "tenant", key)
}
