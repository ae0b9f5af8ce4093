package sqlite

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/repository/dbx"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

const (
	insertTransactionSQL = `
		INSERT OR IGNORE INTO transactions (tenant_key, id, payer_name, amount, status, raw_status, created_at_ms, local_time, observed_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectTransactionColumns = `SELECT tenant_key, id, payer_name, amount, status, raw_status, created_at_ms, local_time FROM transactions`
)

// TransactionRepository implements domain.TransactionRepository on SQLite.
// Instants are stored as unix milliseconds so range scans compare integers,
// and amounts as decimal text so no precision is lost.
type TransactionRepository struct {
	db     *sql.DB
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

func NewTransactionRepository(db *sql.DB, loc *time.Location, logger *slog.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:     db,
		loc:    loc,
		logger: logger.With("component", "sqlite_transactions"),
		now:    time.Now,
	}
}

func (r *TransactionRepository) Insert(ctx context.Context, tx domain.Transaction) (bool, error) {
	inserted, err := insertTransaction(ctx, r.db, tx, r.now())
	if err != nil {
		return false, domain.NewStorageError("insert transaction", err)
	}
	return inserted, nil
}

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
	return inserted, nil
}

func (r *TransactionRepository) Query(ctx context.Context, tenantKey string, dr domain.DateRange) ([]domain.Transaction, error) {
	start, end := dr.Bounds(r.loc)
	rows, err := r.db.QueryContext(ctx, selectTransactionColumns+`
		WHERE tenant_key = ? AND created_at_ms >= ? AND created_at_ms < ?
		ORDER BY created_at_ms DESC, id DESC`,
		tenantKey, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, domain.NewStorageError("query transactions", err)
	}
	txs, err := r.scanTransactions(rows)
	if err != nil {
		return nil, domain.NewStorageError("query transactions", err)
	}
	return txs, nil
}

func (r *TransactionRepository) Latest(ctx context.Context, tenantKey string, status domain.Status, limit int) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, selectTransactionColumns+`
		WHERE tenant_key = ? AND status = ?
		ORDER BY created_at_ms DESC, id DESC
		LIMIT ?`,
		tenantKey, string(status), limit)
	if err != nil {
		return nil, domain.NewStorageError("latest transactions", err)
	}
	txs, err := r.scanTransactions(rows)
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
		tx.Amount.String(),
		string(tx.Status),
		tx.RawStatus,
		createdAt.UnixMilli(),
		tx.LocalTime,
		observedAt.UnixMilli(),
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

func (r *TransactionRepository) scanTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		var (
			tx        domain.Transaction
			amount    string
			status    string
			createdMs int64
		)
		if err := rows.Scan(&tx.TenantKey, &tx.ID, &tx.PayerName, &amount, &status, &tx.RawStatus, &createdMs, &tx.LocalTime); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			r.logger.Warn("stored amount is not a decimal", "tenant", tx.TenantKey, "id", tx.ID, "amount", amount)
			d = decimal.Zero
		}
		tx.Amount = d
		tx.Status = domain.Status(status)
		tx.CreatedAt = time.UnixMilli(createdMs).In(r.loc)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
