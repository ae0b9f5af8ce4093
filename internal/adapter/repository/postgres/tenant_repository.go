package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

const (
	uniqueViolation = "23505"

	selectTenantColumns = `SELECT key, name, device_token, sealed_credential, password_hash, role, active, created_at, updated_at FROM tenants`

	upsertTenantSQL = `
		INSERT INTO tenants (key, name, device_token, sealed_credential, password_hash, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name,
			device_token = EXCLUDED.device_token,
			sealed_credential = EXCLUDED.sealed_credential,
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`
)

// TenantRepository implements domain.TenantRepository on PostgreSQL.
type TenantRepository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewTenantRepository creates a new PostgreSQL tenant repository.
func NewTenantRepository(db *sql.DB, logger *slog.Logger) *TenantRepository {
	return &TenantRepository{
		db:     db,
		logger: logger.With("component", "postgres_tenants"),
		now:    time.Now,
	}
}

func (r *TenantRepository) FindByKey(ctx context.Context, key string) (*domain.Tenant, error) {
	row := r.db.QueryRowContext(ctx, selectTenantColumns+` WHERE key = $1`, key)
	return r.scanOne(row, "find tenant by key")
}

func (r *TenantRepository) FindByDeviceToken(ctx context.Context, token string) (*domain.Tenant, error) {
	row := r.db.QueryRowContext(ctx, selectTenantColumns+` WHERE LOWER(device_token) = LOWER($1)`, token)
	return r.scanOne(row, "find tenant by device token")
}

// FindByLogin prefers a key match over a device token match.
func (r *TenantRepository) FindByLogin(ctx context.Context, identifier string) (*domain.Tenant, error) {
	row := r.db.QueryRowContext(ctx, selectTenantColumns+`
		WHERE LOWER(key) = LOWER($1) OR LOWER(device_token) = LOWER($1)
		ORDER BY (LOWER(key) = LOWER($1)) DESC
		LIMIT 1`, identifier)
	return r.scanOne(row, "find tenant by login")
}

func (r *TenantRepository) List(ctx context.Context) ([]*domain.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, selectTenantColumns+` ORDER BY key`)
	if err != nil {
		return nil, domain.NewStorageError("list tenants", err)
	}
	defer rows.Close()

	tenants := []*domain.Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, domain.NewStorageError("list tenants", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list tenants", err)
	}
	return tenants, nil
}

func (r *TenantRepository) Upsert(ctx context.Context, t *domain.Tenant) error {
	now := r.now()
	_, err := r.db.ExecContext(ctx, upsertTenantSQL,
		t.Key,
		t.Name,
		nullString(t.DeviceToken),
		t.SealedCredential,
		t.PasswordHash,
		string(t.Role),
		t.Active,
		now,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrConflict
		}
		return domain.NewStorageError("upsert tenant", err)
	}
	return nil
}

func (r *TenantRepository) SetActive(ctx context.Context, key string, active bool) error {
	return r.update(ctx, "set tenant active", `UPDATE tenants SET active = $2, updated_at = $3 WHERE key = $1`, key, active)
}

func (r *TenantRepository) UpdateCredential(ctx context.Context, key string, sealed []byte) error {
	return r.update(ctx, "update tenant credential", `UPDATE tenants SET sealed_credential = $2, updated_at = $3 WHERE key = $1`, key, sealed)
}

func (r *TenantRepository) UpdatePasswordHash(ctx context.Context, key, hash string) error {
	return r.update(ctx, "update tenant password", `UPDATE tenants SET password_hash = $2, updated_at = $3 WHERE key = $1`, key, hash)
}

func (r *TenantRepository) update(ctx context.Context, op, query, key string, value any) error {
	res, err := r.db.ExecContext(ctx, query, key, value, r.now())
	if err != nil {
		return domain.NewStorageError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewStorageError(op, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *TenantRepository) scanOne(row *sql.Row, op string) (*domain.Tenant, error) {
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.NewStorageError(op, err)
	}
	return t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(s scanner) (*domain.Tenant, error) {
	var (
		t     domain.Tenant
		token sql.NullString
		role  string
	)
	if err := s.Scan(&t.Key, &t.Name, &token, &t.SealedCredential, &t.PasswordHash, &role, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.DeviceToken = token.String
	t.Role = domain.Role(role)
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
