package usecase

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

var art = time.FixedZone("ART", -3*3600)

func approvedAt(id, amount string, at time.Time) domain.Transaction {
	return domain.Transaction{ID: id, Amount: decimal.RequireFromString(amount), Status: domain.StatusApproved, CreatedAt: at}
}

func TestAggregator_Windows(t *testing.T) {
	// 2025-01-06 is a Monday; 2025-01-01 the Wednesday before.
	ref := time.Date(2025, 1, 6, 18, 0, 0, 0, art)
	txs := []domain.Transaction{
		approvedAt("a", "10", time.Date(2025, 1, 1, 9, 0, 0, 0, art)),
		approvedAt("b", "20", time.Date(2025, 1, 6, 9, 0, 0, 0, art)),
	}

	r := NewAggregator().Metrics(txs, ref)

	assert.Equal(t, "20.00", r.Today.Total.StringFixed(2))
	assert.Equal(t, 1, r.Today.Count)
	assert.Equal(t, "20.00", r.Week.Total.StringFixed(2))
	assert.Equal(t, 1, r.Week.Count)
	assert.Equal(t, "30.00", r.Month.Total.StringFixed(2))
	assert.Equal(t, 2, r.Month.Count)
}

func TestAggregator_WeekStartsOnMonday(t *testing.T) {
	// Sunday 2025-01-12 belongs to the week that started Monday 2025-01-06.
	ref := time.Date(2025, 1, 12, 10, 0, 0, 0, art)
	txs := []domain.Transaction{
		approvedAt("mon", "1", time.Date(2025, 1, 6, 0, 0, 0, 0, art)),
		approvedAt("sun-before", "100", time.Date(2025, 1, 5, 23, 59, 59, 0, art)),
	}

	r := NewAggregator().Metrics(txs, ref)
	assert.Equal(t, "1.00", r.Week.Total.StringFixed(2))
	assert.Equal(t, "101.00", r.Month.Total.StringFixed(2))
}

func TestAggregator_StatusFilter(t *testing.T) {
	ref := time.Date(2025, 1, 6, 18, 0, 0, 0, art)
	rejected := approvedAt("r", "50", time.Date(2025, 1, 6, 9, 0, 0, 0, art))
	rejected.Status = domain.StatusRejected

	ag := NewAggregator()
	r := ag.Metrics([]domain.Transaction{rejected}, ref)

	assert.True(t, r.Today.Total.IsZero())
	assert.Zero(t, r.Month.Count)
	for _, p := range r.Series {
		assert.Zero(t, p.Count)
	}

	// Filtering keeps every status.
	got := ag.Filter([]domain.Transaction{rejected}, domain.NewDateRange(ref, ref), ref)
	assert.Len(t, got, 1)
}

func TestAggregator_SeriesAlwaysHas14Points(t *testing.T) {
	ref := time.Date(2025, 3, 1, 12, 0, 0, 0, art)
	r := NewAggregator().Metrics(nil, ref)

	require.Len(t, r.Series, SeriesDays)
	assert.Equal(t, "2025-02-16", r.Series[0].Date.Format(dateLayout))
	assert.Equal(t, "2025-03-01", r.Series[13].Date.Format(dateLayout))
	for _, p := range r.Series {
		assert.Zero(t, p.Count)
		assert.Equal(t, "0.00", p.Total.StringFixed(2))
	}
}

func TestAggregator_SeriesBuckets(t *testing.T) {
	ref := time.Date(2025, 1, 14, 12, 0, 0, 0, art)
	txs := []domain.Transaction{
		approvedAt("a", "5", time.Date(2025, 1, 1, 1, 0, 0, 0, art)),
		approvedAt("b", "7", time.Date(2025, 1, 1, 23, 0, 0, 0, art)),
		approvedAt("old", "99", time.Date(2024, 12, 31, 23, 0, 0, 0, art)),
		approvedAt("future", "99", time.Date(2025, 1, 15, 1, 0, 0, 0, art)),
	}

	r := NewAggregator().Metrics(txs, ref)
	assert.Equal(t, "2025-01-01", r.Series[0].Date.Format(dateLayout))
	assert.Equal(t, "12.00", r.Series[0].Total.StringFixed(2))
	assert.Equal(t, 2, r.Series[0].Count)
	assert.True(t, r.Today.Total.IsZero())
}

func TestAggregator_EventDateUsesReferenceLocation(t *testing.T) {
	// 02:00 UTC on the 7th is still the 6th in Argentina.
	ref := time.Date(2025, 1, 6, 23, 0, 0, 0, art)
	txs := []domain.Transaction{approvedAt("a", "3", time.Date(2025, 1, 7, 2, 0, 0, 0, time.UTC))}

	r := NewAggregator().Metrics(txs, ref)
	assert.Equal(t, 1, r.Today.Count)
}

func TestAggregator_UnparseableTimestampCountsAsToday(t *testing.T) {
	ref := time.Date(2025, 1, 6, 12, 0, 0, 0, art)
	txs := []domain.Transaction{approvedAt("a", "4", time.Time{})}

	ag := NewAggregator()
	r := ag.Metrics(txs, ref)
	assert.Equal(t, 1, r.Today.Count)
	assert.Equal(t, 1, r.Series[SeriesDays-1].Count)

	assert.Len(t, ag.Filter(txs, domain.NewDateRange(ref, ref), ref), 1)
	yesterday := ref.AddDate(0, 0, -1)
	assert.Empty(t, ag.Filter(txs, domain.NewDateRange(yesterday, yesterday), ref))
}

func TestAggregator_RoundsOnlyOnOutput(t *testing.T) {
	ref := time.Date(2025, 1, 6, 12, 0, 0, 0, art)
	at := time.Date(2025, 1, 6, 9, 0, 0, 0, art)
	txs := []domain.Transaction{
		approvedAt("a", "0.10", at),
		approvedAt("b", "0.20", at),
		approvedAt("c", "0.005", at),
	}

	ag := NewAggregator()
	r := ag.Metrics(txs, ref)
	assert.Equal(t, "0.31", r.Today.Total.StringFixed(2))
	assert.Equal(t, "0.31", r.Series[SeriesDays-1].Total.StringFixed(2))
	assert.Equal(t, "0.31", ag.Summarize(txs).Total.StringFixed(2))
}

func TestAggregator_ParseRange(t *testing.T) {
	ref := time.Date(2025, 1, 31, 15, 0, 0, 0, art)
	ag := NewAggregator()

	tests := []struct {
		name     string
		q        RangeQuery
		from, to string
		wantErr  bool
	}{
		{name: "default is trailing 30 days", q: RangeQuery{}, from: "2025-01-02", to: "2025-01-31"},
		{name: "today", q: RangeQuery{Range: "today"}, from: "2025-01-31", to: "2025-01-31"},
		{name: "7d", q: RangeQuery{Range: "7d"}, from: "2025-01-25", to: "2025-01-31"},
		{name: "last_1", q: RangeQuery{Range: "last_1"}, from: "2025-01-31", to: "2025-01-31"},
		{name: "last_90_days", q: RangeQuery{Range: "last_90_days"}, from: "2024-11-03", to: "2025-01-31"},
		{name: "custom", q: RangeQuery{Range: "custom", Start: "2025-01-01", End: "2025-01-05"}, from: "2025-01-01", to: "2025-01-05"},
		{name: "implicit custom", q: RangeQuery{Start: "2025-01-01", End: "2025-01-01"}, from: "2025-01-01", to: "2025-01-01"},
		{name: "zero days", q: RangeQuery{Range: "0d"}, wantErr: true},
		{name: "too many days", q: RangeQuery{Range: "400d"}, wantErr: true},
		{name: "unknown", q: RangeQuery{Range: "forever"}, wantErr: true},
		{name: "custom missing end", q: RangeQuery{Range: "custom", Start: "2025-01-01"}, wantErr: true},
		{name: "custom bad date", q: RangeQuery{Range: "custom", Start: "2025-13-01", End: "2025-01-01"}, wantErr: true},
		{name: "custom reversed", q: RangeQuery{Range: "custom", Start: "2025-01-05", End: "2025-01-01"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ag.ParseRange(tt.q, ref)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrBadInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.from, got.From.Format(dateLayout))
			assert.Equal(t, tt.to, got.To.Format(dateLayout))
		})
	}
}

func TestAggregator_Combine(t *testing.T) {
	a := &domain.Snapshot{TenantKey: "a", Transactions: []domain.Transaction{
		approvedAt("a1", "1", time.Date(2025, 1, 1, 0, 0, 0, 0, art)),
	}}
	b := &domain.Snapshot{TenantKey: "b", Transactions: []domain.Transaction{
		approvedAt("b1", "2", time.Date(2025, 1, 3, 0, 0, 0, 0, art)),
		approvedAt("b2", "3", time.Date(2024, 12, 30, 0, 0, 0, 0, art)),
	}}

	got := NewAggregator().Combine(a, nil, b)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"b1", "a1", "b2"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestReport_JSON(t *testing.T) {
	ref := time.Date(2025, 1, 6, 12, 0, 0, 0, art)
	r := NewAggregator().Metrics([]domain.Transaction{approvedAt("a", "20", ref)}, ref)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"today":{"total":20.00,"count":1}`)
	assert.Contains(t, string(data), `{"date":"2025-01-06","total":20.00,"count":1}`)
}
