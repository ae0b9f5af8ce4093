package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/api/middleware"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
	"github.com/Wilsonc7/mp-notifier/internal/domain/mocks"
	"github.com/Wilsonc7/mp-notifier/internal/pkg/auth"
	"github.com/Wilsonc7/mp-notifier/internal/usecase"
)

var art = time.FixedZone("ART", -3*3600)

// fixedNow is a Monday afternoon in the display timezone.
var fixedNow = time.Date(2025, 1, 6, 18, 0, 0, 0, art)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// plainSealer stores credentials unencrypted.
type plainSealer struct{}

func (plainSealer) Seal(plaintext string) ([]byte, error) { return []byte(plaintext), nil }
func (plainSealer) Open(sealed []byte) (string, error)    { return string(sealed), nil }

type fixture struct {
	tenants  *mocks.MockTenantRepository
	store    *mocks.MockTransactionRepository
	provider *mocks.MockProviderClient
	issuer   *auth.TokenIssuer

	cache     *usecase.RefreshCache
	dashboard *usecase.Dashboard
	auth      *usecase.Auth
	admin     *usecase.TenantAdmin
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)

	f := &fixture{
		tenants: mocks.NewMockTenantRepository(
			&domain.Tenant{Key: "cafe", Name: "Cafe", DeviceToken: "DEV-CAFE", Role: domain.RoleClient,
				Active: true, SealedCredential: []byte("tok-cafe"), PasswordHash: hash},
			&domain.Tenant{Key: "closed", DeviceToken: "DEV-CLOSED", Role: domain.RoleClient,
				SealedCredential: []byte("tok-closed"), PasswordHash: hash},
			&domain.Tenant{Key: "admin", Role: domain.RoleAdmin, Active: true, PasswordHash: hash},
		),
		store:    mocks.NewMockTransactionRepository(),
		provider: mocks.NewMockProviderClient(),
		issuer:   auth.NewTokenIssuer("jwt-secret", time.Hour),
	}
	f.store.Location = art
	f.cache = usecase.NewRefreshCache(f.provider, time.Minute, discardLogger(), nil)
	f.dashboard = usecase.NewDashboard(usecase.DashboardDeps{
		Tenants:  f.tenants,
		Store:    f.store,
		Cache:    f.cache,
		Sealer:   plainSealer{},
		Location: art,
	}, discardLogger())
	f.auth = usecase.NewAuth(f.tenants, f.issuer, discardLogger())
	f.admin = usecase.NewTenantAdmin(f.tenants, plainSealer{}, f.cache, discardLogger())
	return f
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
		LocalTime: at.In(art).Format(domain.LocalTimeLayout),
	}
}

// asTenant attaches session claims the way the auth middleware does.
func asTenant(req *http.Request, key string, role domain.Role) *http.Request {
	return req.WithContext(middleware.WithClaims(req.Context(), &auth.Claims{TenantKey: key, Role: role}))
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func jsonBody(v string) io.Reader {
	return strings.NewReader(v)
}

func (f *fixture) seed(t *testing.T, txs ...domain.Transaction) {
	t.Helper()
	for _, tx := range txs {
		_, err := f.store.Insert(context.Background(), tx)
		require.NoError(t, err)
	}
}
