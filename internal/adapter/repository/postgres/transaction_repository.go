package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/repository/dbx"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

const (
	insertTransactionSQL = `
		INSERT INTO transactions (tenant_key, id, payer_name, amount, status, raw_status, created_at, local_time, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_key, id) DO NOTHING`

	selectTransactionColumns = `SELECT tenant_key, id, payer_name, amount, status, raw_status, created_at, local_time FROM transactions`

	queryTransactionsSQL = selectTransactionColumns + `
		WHERE tenant_key = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC`

	latestTransactionsSQL = selectTransactionColumns + `
		WHERE tenant_key = $1 AND status = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`
)

// TransactionRepository implements domain.TransactionRepository on PostgreSQL.
// Deduplication relies on the (tenant_key, id) primary key, so concurrent
// inserts of the same payment are linearized by the database.
type TransactionRepository struct {
	db     *sql.DB
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// NewTransactionRepository creates a new PostgreSQL transaction repository.
// loc is the timezone used to turn date ranges into instants.
func NewTransactionRepository(db *sql.DB, loc *time.Location, logger *slog.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:     db,
		loc:    loc,
		logger: logger.With("component", "postgres_transactions"),
		now:    time.Now,
	}
}

// Insert stores tx unless (tenant, id) already exists.
func (r *TransactionRepository) Insert(ctx context.Context, tx domain.Transaction) (bool, error) {
	inserted, err := insertTransaction(ctx, r.db, tx, r.now())
	if err != nil {
		return false, domain.NewStorageError("insert transaction", err)
	}
	return inserted, nil
}

// Record inserts a batch inside a single database transaction.
func (r *TransactionRepository) Record(ctx context.Context, tenantKey string, txs []domain.Transaction) ([]domain.Transaction, error) {
	if len(txs) == 0 {
		return nil, nil
	}

	observedAt := r.now()
	var inserted []domain.Transaction
	err := dbx.WithTx(ctx, r.db, func(ctx context.Context, q dbx.DBTX) error {
		inserted = inserted[:0]
		for _, tx := range txs {
			tx.TenantKey = tenantKey
			ok, err := insertTransaction(ctx, q, tx, observedAt)
			if err != nil {
				return err
			}
			if ok {
				inserted = append(inserted, tx)
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.NewStorageError("record transactions", err)
	}

	r.logger.Debug("recorded transactions", "tenant", tenantKey, "observed", len(txs), "inserted", len(inserted))
	return inserted, nil
}

// Query returns the tenant's transactions inside the date range, newest first.
func (r *TransactionRepository) Query(ctx context.Context, tenantKey string, dr domain.DateRange) ([]domain.Transaction, error) {
	start, end := dr.Bounds(r.loc)
	rows, err := r.db.QueryContext(ctx, queryTransactionsSQL, tenantKey, start, end)
	if err != nil {
		return nil, domain.NewStorageError("query transactions", err)
	}
	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, domain.NewStorageError("query transactions", err)
	}
	return txs, nil
}

// Latest returns the newest transactions with the given status.
func (r *TransactionRepository) Latest(ctx context.Context, tenantKey string, status domain.Status, limit int) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, latestTransactionsSQL, tenantKey, string(status), limit)
	if err != nil {
		return nil, domain.NewStorageError("latest transactions", err)
	}
	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, domain.NewStorageError("latest transactions", err)
	}
	return txs, nil
}

func insertTransaction(ctx context.Context, q dbx.DBTX, tx domain.Transaction, observedAt time.Time) (bool, error) {
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = observedAt
	}
	res, err := q.ExecContext(ctx, insertTransactionSQL,
		tx.TenantKey,
		tx.ID,
		tx.PayerName,
		tx.Amount,
		string(tx.Status),
		tx.RawStatus,
		createdAt,
		tx.LocalTime,
		observedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		var tx domain.Transaction
		var status string
		if err := rows.Scan(&tx.TenantKey, &tx.ID, &tx.PayerName, &tx.Amount, &status, &tx.RawStatus, &tx.CreatedAt, &tx.LocalTime); err != nil {
			return nil, err
		}
		tx.Status = domain.Status(status)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
