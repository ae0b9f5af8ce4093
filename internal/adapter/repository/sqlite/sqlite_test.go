package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

var testLoc = time.FixedZone("ART", -3*3600)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := Open(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newRepos(t *testing.T, tenants ...string) (*TransactionRepository, *TenantRepository) {
	t.Helper()
	db := openTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	txRepo := NewTransactionRepository(db, testLoc, logger)
	tenantRepo := NewTenantRepository(db, logger)
	for _, key := range tenants {
		require.NoError(t, tenantRepo.Upsert(context.Background(), &domain.Tenant{
			Key: key, Name: key, Role: domain.RoleClient, Active: true,
		}))
	}
	return txRepo, tenantRepo
}

func tx(tenant, id, amount string, status domain.Status, at time.Time) domain.Transaction {
	return domain.Transaction{
		ID:        id,
		TenantKey: tenant,
		PayerName: "Ana",
		Amount:    decimal.RequireFromString(amount),
		Status:    status,
		RawStatus: string(status),
		CreatedAt: at,
		LocalTime: at.In(testLoc).Format(domain.LocalTimeLayout),
	}
}

func TestTransactionRepository_InsertIsIdempotent(t *testing.T) {
	repo, _ := newRepos(t, "cafe")
	ctx := context.Background()
	at := time.Date(2025, 1, 6, 10, 0, 0, 0, testLoc)

	first, err := repo.Insert(ctx, tx("cafe", "p-1", "10.00", domain.StatusApproved, at))
	require.NoError(t, err)
	assert.True(t, first)

	second, err := repo.Insert(ctx, tx("cafe", "p-1", "99.00", domain.StatusRejected, at))
	require.NoError(t, err)
	assert.False(t, second)

	got, err := repo.Query(ctx, "cafe", domain.NewDateRange(at, at))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Amount.Equal(decimal.RequireFromString("10")))
	assert.Equal(t, domain.StatusApproved, got[0].Status)
}

func TestTransactionRepository_SameIDDifferentTenants(t *testing.T) {
	repo, _ := newRepos(t, "cafe", "bakery")
	ctx := context.Background()
	at := time.Date(2025, 1, 6, 10, 0, 0, 0, testLoc)

	a, err := repo.Insert(ctx, tx("cafe", "p-1", "10", domain.StatusApproved, at))
	require.NoError(t, err)
	b, err := repo.Insert(ctx, tx("bakery", "p-1", "20", domain.StatusApproved, at))
	require.NoError(t, err)
	assert.True(t, a)
	assert.True(t, b)

	got, err := repo.Query(ctx, "bakery", domain.NewDateRange(at, at))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "20", got[0].Amount.String())
}

func TestTransactionRepository_ConcurrentInsertsHaveOneWinner(t *testing.T) {
	repo, _ := newRepos(t, "cafe")
	at := time.Date(2025, 1, 6, 10, 0, 0, 0, testLoc)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Insert(context.Background(), tx("cafe", "p-1", "10", domain.StatusApproved, at))
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestTransactionRepository_Record(t *testing.T) {
	repo, _ := newRepos(t, "cafe")
	ctx := context.Background()
	at := time.Date(2025, 1, 6, 10, 0, 0, 0, testLoc)

	_, err := repo.Insert(ctx, tx("cafe", "p-1", "10", domain.StatusApproved, at))
	require.NoError(t, err)

	inserted, err := repo.Record(ctx, "cafe", []domain.Transaction{
		tx("", "p-1", "10", domain.StatusApproved, at),
		tx("", "p-2", "5", domain.StatusPending, at.Add(time.Minute)),
	})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, "p-2", inserted[0].ID)
	assert.Equal(t, "cafe", inserted[0].TenantKey)
}

func TestTransactionRepository_QueryRangeAndOrder(t *testing.T) {
	repo, _ := newRepos(t, "cafe")
	ctx := context.Background()

	day := func(d, h int) time.Time { return time.Date(2025, 1, d, h, 0, 0, 0, testLoc) }
	for _, item := range []domain.Transaction{
		tx("cafe", "before", "1", domain.StatusApproved, day(4, 23)),
		tx("cafe", "early", "2", domain.StatusApproved, day(5, 0)),
		tx("cafe", "rejected", "3", domain.StatusRejected, day(5, 12)),
		tx("cafe", "late", "4", domain.StatusApproved, day(6, 23)),
		tx("cafe", "after", "5", domain.StatusApproved, day(7, 0)),
	} {
		_, err := repo.Insert(ctx, item)
		require.NoError(t, err)
	}

	got, err := repo.Query(ctx, "cafe", domain.NewDateRange(day(5, 0), day(6, 0)))
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, g := range got {
		ids[i] = g.ID
	}
	assert.Equal(t, []string{"late", "rejected", "early"}, ids)
	assert.Equal(t, "2025-01-06 23:00:00", got[0].LocalTime)
	assert.True(t, got[0].CreatedAt.Equal(day(6, 23)))
}

func TestTransactionRepository_QueryEmpty(t *testing.T) {
	repo, _ := newRepos(t, "cafe")
	got, err := repo.Query(context.Background(), "cafe", domain.NewDateRange(time.Now(), time.Now()))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestTransactionRepository_Latest(t *testing.T) {
	repo, _ := newRepos(t, "cafe")
	ctx := context.Background()
	base := time.Date(2025, 1, 6, 10, 0, 0, 0, testLoc)

	for i := 0; i < 5; i++ {
		_, err := repo.Insert(ctx, tx("cafe", fmt.Sprintf("p-%d", i), "1", domain.StatusApproved, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err := repo.Insert(ctx, tx("cafe", "r-1", "1", domain.StatusRejected, base.Add(time.Hour)))
	require.NoError(t, err)

	got, err := repo.Latest(ctx, "cafe", domain.StatusApproved, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "p-4", got[0].ID)
	assert.Equal(t, "p-2", got[2].ID)
}

func TestTransactionRepository_ClosedDB(t *testing.T) {
	db := openTestDB(t)
	repo := NewTransactionRepository(db, testLoc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, db.Close())

	_, err := repo.Query(context.Background(), "cafe", domain.NewDateRange(time.Now(), time.Now()))
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestTenantRepository_Lookups(t *testing.T) {
	_, repo := newRepos(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &domain.Tenant{
		Key: "cafe", Name: "Cafe Central", DeviceToken: "Dev-ABC", SealedCredential: []byte("sealed"),
		PasswordHash: "hash", Role: domain.RoleClient, Active: true,
	}))

	byKey, err := repo.FindByKey(ctx, "cafe")
	require.NoError(t, err)
	assert.Equal(t, "Cafe Central", byKey.Name)
	assert.Equal(t, []byte("sealed"), byKey.SealedCredential)
	assert.True(t, byKey.Pollable())

	byToken, err := repo.FindByDeviceToken(ctx, "dev-abc")
	require.NoError(t, err)
	assert.Equal(t, "cafe", byToken.Key)

	byLogin, err := repo.FindByLogin(ctx, "CAFE")
	require.NoError(t, err)
	assert.Equal(t, "cafe", byLogin.Key)

	byLogin, err = repo.FindByLogin(ctx, "DEV-abc")
	require.NoError(t, err)
	assert.Equal(t, "cafe", byLogin.Key)

	_, err = repo.FindByKey(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTenantRepository_UpsertDeviceTokenConflict(t *testing.T) {
	_, repo := newRepos(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &domain.Tenant{Key: "cafe", Name: "Cafe", DeviceToken: "dev-1", Role: domain.RoleClient, Active: true}))
	err := repo.Upsert(ctx, &domain.Tenant{Key: "bakery", Name: "Bakery", DeviceToken: "DEV-1", Role: domain.RoleClient, Active: true})
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Tenants without a device token never clash.
	require.NoError(t, repo.Upsert(ctx, &domain.Tenant{Key: "a", Name: "A", Role: domain.RoleAdmin, Active: true}))
	require.NoError(t, repo.Upsert(ctx, &domain.Tenant{Key: "b", Name: "B", Role: domain.RoleAdmin, Active: true}))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestTenantRepository_Updates(t *testing.T) {
	_, repo := newRepos(t, "cafe")
	ctx := context.Background()

	require.NoError(t, repo.SetActive(ctx, "cafe", false))
	require.NoError(t, repo.UpdateCredential(ctx, "cafe", []byte("new")))
	require.NoError(t, repo.UpdatePasswordHash(ctx, "cafe", "h2"))

	got, err := repo.FindByKey(ctx, "cafe")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, []byte("new"), got.SealedCredential)
	assert.Equal(t, "h2", got.PasswordHash)

	assert.ErrorIs(t, repo.SetActive(ctx, "ghost", true), domain.ErrNotFound)
}
