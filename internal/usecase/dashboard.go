package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

const (
	MinDeviceFeed     = 5
	MaxDeviceFeed     = 20
	DefaultDeviceFeed = 10

	DefaultPageSize = 50
	MaxPageSize     = 500

	globalFanOut = 8
)

// DashboardDeps are the collaborators of a Dashboard.
type DashboardDeps struct {
	Tenants  domain.TenantRepository
	Store    domain.TransactionRepository
	Cache    *RefreshCache
	Sealer   domain.CredentialSealer
	Location *time.Location
	// FeedLimit is the device feed size used when the device sends none.
	FeedLimit int
}

// Dashboard serves the read side: live tenant metrics, stored history,
// the device feed and the admin's global view.
type Dashboard struct {
	tenants   domain.TenantRepository
	store     domain.TransactionRepository
	cache     *RefreshCache
	sealer    domain.CredentialSealer
	agg       *Aggregator
	loc       *time.Location
	feedLimit int
	logger    *slog.Logger
}

func NewDashboard(deps DashboardDeps, logger *slog.Logger) *Dashboard {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	feed := deps.FeedLimit
	if feed == 0 {
		feed = DefaultDeviceFeed
	}
	return &Dashboard{
		tenants:   deps.Tenants,
		store:     deps.Store,
		cache:     deps.Cache,
		sealer:    deps.Sealer,
		agg:       NewAggregator(),
		loc:       loc,
		feedLimit: clamp(feed, MinDeviceFeed, MaxDeviceFeed),
		logger:    logger.With("component", "dashboard"),
	}
}

// RangeView is a selected date range with its approved window.
type RangeView struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Window Window `json:"window"`
}

// MetricsView is the live dashboard of one tenant.
type MetricsView struct {
	Report
	Range RangeView `json:"range"`
	// Transactions are the approved payments inside Range.
	Transactions []domain.Transaction `json:"transactions"`
	FetchedAt    time.Time            `json:"fetched_at"`
}

// Metrics computes the tenant's live aggregates from the refresh cache.
func (d *Dashboard) Metrics(ctx context.Context, tenantKey string, q RangeQuery, now time.Time) (*MetricsView, error) {
	ref := now.In(d.loc)
	r, err := d.agg.ParseRange(q, ref)
	if err != nil {
		return nil, err
	}

	t, err := d.activeTenant(ctx, tenantKey)
	if err != nil {
		return nil, err
	}

	snap := d.cache.Get(ctx, t.Key, d.credential(t))
	filtered := d.agg.Filter(snap.Transactions, r, ref)

	return &MetricsView{
		Report:       d.agg.Metrics(snap.Transactions, ref),
		Range:        rangeView(r, d.agg.Summarize(filtered)),
		Transactions: approvedOnly(filtered),
		FetchedAt:    snap.FetchedAt,
	}, nil
}

// Page selects a slice of a result list.
type Page struct {
	Limit  int
	Offset int
}

// HistoryView is one page of stored transactions.
type HistoryView struct {
	Range        RangeView            `json:"range"`
	Total        int                  `json:"total"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
	Transactions []domain.Transaction `json:"transactions"`
}

// History pages through the tenant's stored transactions. The range window
// covers the whole range, not only the returned page.
func (d *Dashboard) History(ctx context.Context, tenantKey string, q RangeQuery, p Page, now time.Time) (*HistoryView, error) {
	if p.Offset < 0 {
		return nil, domain.BadInput("offset must not be negative")
	}
	if p.Limit < 0 {
		return nil, domain.BadInput("limit must not be negative")
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}

	r, err := d.agg.ParseRange(q, now.In(d.loc))
	if err != nil {
		return nil, err
	}

	txs, err := d.store.Query(ctx, tenantKey, r)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	d.logger.Debug("history queried", "tenant", tenantKey, "range", formatRange(r), "rows", len(txs))

	page := []domain.Transaction{}
	if p.Offset < len(txs) {
		page = txs[p.Offset:min(p.Offset+p.Limit, len(txs))]
	}
	return &HistoryView{
		Range:        rangeView(r, d.agg.Summarize(txs)),
		Total:        len(txs),
		Limit:        p.Limit,
		Offset:       p.Offset,
		Transactions: page,
	}, nil
}

// DeviceFeed returns the newest approved transactions of the tenant owning the
// device token. limit is clamped to [MinDeviceFeed, MaxDeviceFeed]; zero uses
// the configured default.
func (d *Dashboard) DeviceFeed(ctx context.Context, token string, limit int) ([]domain.Transaction, error) {
	if token == "" {
		return nil, domain.BadInput("token required")
	}
	t, err := d.tenants.FindByDeviceToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, domain.ErrForbidden
	}

	if limit == 0 {
		limit = d.feedLimit
	}
	txs, err := d.store.Latest(ctx, t.Key, domain.StatusApproved, clamp(limit, MinDeviceFeed, MaxDeviceFeed))
	if err != nil {
		return nil, fmt.Errorf("device feed: %w", err)
	}
	return txs, nil
}

// GlobalView aggregates every pollable tenant.
type GlobalView struct {
	Report
	Tenants int `json:"tenants"`
}

// GlobalMetrics combines the snapshots of every pollable tenant. Snapshots are
// loaded concurrently through the refresh cache.
func (d *Dashboard) GlobalMetrics(ctx context.Context, now time.Time) (*GlobalView, error) {
	all, err := d.tenants.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	pollable := make([]*domain.Tenant, 0, len(all))
	for _, t := range all {
		if t.Pollable() {
			pollable = append(pollable, t)
		}
	}

	snaps := make([]*domain.Snapshot, len(pollable))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(globalFanOut)
	for n, t := range pollable {
		g.Go(func() error {
			snaps[n] = d.cache.Get(gctx, t.Key, d.credential(t))
			return nil
		})
	}
	_ = g.Wait()

	return &GlobalView{
		Report:  d.agg.Metrics(d.agg.Combine(snaps...), now.In(d.loc)),
		Tenants: len(pollable),
	}, nil
}

func (d *Dashboard) activeTenant(ctx context.Context, key string) (*domain.Tenant, error) {
	t, err := d.tenants.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, domain.ErrForbidden
	}
	return t, nil
}

// credential defers opening the tenant's sealed credential to the refresh
// cache's fetch path. An empty string makes the provider client return an
// empty result.
func (d *Dashboard) credential(t *domain.Tenant) CredentialFunc {
	return func() (string, error) {
		if !t.HasCredential() {
			return "", nil
		}
		return d.sealer.Open(t.SealedCredential)
	}
}

func approvedOnly(txs []domain.Transaction) []domain.Transaction {
	out := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.IsApproved() {
			out = append(out, tx)
		}
	}
	return out
}

func rangeView(r domain.DateRange, w Window) RangeView {
	return RangeView{From: r.From.Format(dateLayout), To: r.To.Format(dateLayout), Window: w}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
