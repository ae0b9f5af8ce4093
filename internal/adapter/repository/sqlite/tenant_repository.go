package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

const (
	selectTenantColumns = `SELECT key, name, device_token, sealed_credential, password_hash, role, active, created_at_ms, updated_at_ms FROM tenants`

	upsertTenantSQL = `
		INSERT INTO tenants (key, name, device_token, sealed_credential, password_hash, role, active, created_at_ms, updated_at_ms)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?8)
		ON CONFLICT (key) DO UPDATE SET
			name = excluded.name,
			device_token = excluded.device_token,
			sealed_credential = excluded.sealed_credential,
			password_hash = excluded.password_hash,
			role = excluded.role,
			active = excluded.active,
			updated_at_ms = excluded.updated_at_ms`
)

// TenantRepository implements domain.TenantRepository on SQLite.
type TenantRepository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewTenantRepository(db *sql.DB, logger *slog.Logger) *TenantRepository {
	return &TenantRepository{
		db:     db,
		logger: logger.With("component", "sqlite_tenants"),
		now:    time.Now,
	}
}

func (r *TenantRepository) FindByKey(ctx context.Context, key string) (*domain.Tenant, error) {
	row := r.db.QueryRowContext(ctx, selectTenantColumns+` WHERE key = ?`, key)
	return r.scanOne(row, "find tenant by key")
}

func (r *TenantRepository) FindByDeviceToken(ctx context.Context, token string) (*domain.Tenant, error) {
	row := r.db.QueryRowContext(ctx, selectTenantColumns+` WHERE LOWER(device_token) = LOWER(?)`, token)
	return r.scanOne(row, "find tenant by device token")
}

func (r *TenantRepository) FindByLogin(ctx context.Context, identifier string) (*domain.Tenant, error) {
	row := r.db.QueryRowContext(ctx, selectTenantColumns+`
		WHERE LOWER(key) = LOWER(?1) OR LOWER(device_token) = LOWER(?1)
		ORDER BY (LOWER(key) = LOWER(?1)) DESC
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
	var token any
	if t.DeviceToken != "" {
		token = t.DeviceToken
	}
	_, err := r.db.ExecContext(ctx, upsertTenantSQL,
		t.Key, t.Name, token, t.SealedCredential, t.PasswordHash, string(t.Role), boolToInt(t.Active), r.now().UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return domain.NewStorageError("upsert tenant", err)
	}
	return nil
}

func (r *TenantRepository) SetActive(ctx context.Context, key string, active bool) error {
	return r.update(ctx, "set tenant active", `UPDATE tenants SET active = ?, updated_at_ms = ? WHERE key = ?`, boolToInt(active), key)
}

func (r *TenantRepository) UpdateCredential(ctx context.Context, key string, sealed []byte) error {
	return r.update(ctx, "update tenant credential", `UPDATE tenants SET sealed_credential = ?, updated_at_ms = ? WHERE key = ?`, sealed, key)
}

func (r *TenantRepository) UpdatePasswordHash(ctx context.Context, key, hash string) error {
	return r.update(ctx, "update tenant password", `UPDATE tenants SET password_hash = ?, updated_at_ms = ? WHERE key = ?`, hash, key)
}

func (r *TenantRepository) update(ctx context.Context, op, query string, value any, key string) error {
	res, err := r.db.ExecContext(ctx, query, value, r.now().UnixMilli(), key)
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

func scanTenant(s interface{ Scan(dest ...any) error }) (*domain.Tenant, error) {
	var (
		t                  domain.Tenant
		token              sql.NullString
		role               string
		active             int64
		createdMs, updated int64
	)
	if err := s.Scan(&t.Key, &t.Name, &token, &t.SealedCredential, &t.PasswordHash, &role, &active, &createdMs, &updated); err != nil {
		return nil, err
	}
	t.DeviceToken = token.String
	t.Role = domain.Role(role)
	t.Active = active != 0
	t.CreatedAt = time.UnixMilli(createdMs)
	t.UpdatedAt = time.UnixMilli(updated)
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
