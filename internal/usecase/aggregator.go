package usecase

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

const (
	// SeriesDays is the length of the daily series ending at the reference date.
	SeriesDays          = 14
	DefaultLookbackDays = 30
	MaxLookbackDays     = 366
	dateLayout          = "2006-01-02"
)

// Window is an approved-only total and count. Total is rounded to 2 places.
type Window struct {
	Total decimal.Decimal
	Count int
}

func (w Window) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Total json.Number `json:"total"`
		Count int         `json:"count"`
	}{json.Number(w.Total.StringFixed(2)), w.Count})
}

// Point is one day of the series.
type Point struct {
	Date  time.Time
	Total decimal.Decimal
	Count int
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date  string      `json:"date"`
		Total json.Number `json:"total"`
		Count int         `json:"count"`
	}{p.Date.Format(dateLayout), json.Number(p.Total.StringFixed(2)), p.Count})
}

// Report holds the fixed windows and the daily series for one reference date.
type Report struct {
	Today  Window  `json:"today"`
	Week   Window  `json:"week"`
	Month  Window  `json:"month"`
	Series []Point `json:"series"`
}

// RangeQuery is the raw range selection of a request.
// Range is "", "today", "Nd", "last_N" or "custom" (with Start and End as YYYY-MM-DD).
type RangeQuery struct {
	Range string
	Start string
	End   string
}

// Aggregator computes windowed totals. It does no I/O.
//
// A transaction whose CreatedAt is zero (the provider timestamp could not be
// parsed) is dated on the reference date. It is never dropped.
type Aggregator struct{}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

type accumulator struct {
	sum   decimal.Decimal
	count int
}

func (a *accumulator) add(d decimal.Decimal) {
	a.sum = a.sum.Add(d)
	a.count++
}

func (a accumulator) window() Window {
	return Window{Total: a.sum.Round(2), Count: a.count}
}

// Metrics computes today, week-to-date, month-to-date and the 14-day series,
// all ending at ref and evaluated in ref's location. Only approved
// transactions count. Sums stay exact until the output is rounded.
func (ag *Aggregator) Metrics(txs []domain.Transaction, ref time.Time) Report {
	today := domain.DateOf(ref)
	weekStart := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
	seriesStart := today.AddDate(0, 0, -(SeriesDays - 1))

	var day, week, month accumulator
	daily := make(map[string]*accumulator, SeriesDays)

	for _, tx := range txs {
		if !tx.IsApproved() {
			continue
		}
		d := eventDate(tx, today)
		if d.After(today) {
			continue
		}
		if d.Equal(today) {
			day.add(tx.Amount)
		}
		if !d.Before(weekStart) {
			week.add(tx.Amount)
		}
		if !d.Before(monthStart) {
			month.add(tx.Amount)
		}
		if !d.Before(seriesStart) {
			key := d.Format(dateLayout)
			acc, ok := daily[key]
			if !ok {
				acc = &accumulator{}
				daily[key] = acc
			}
			acc.add(tx.Amount)
		}
	}

	series := make([]Point, SeriesDays)
	for i := range series {
		d := seriesStart.AddDate(0, 0, i)
		p := Point{Date: d, Total: decimal.Zero}
		if acc, ok := daily[d.Format(dateLayout)]; ok {
			w := acc.window()
			p.Total, p.Count = w.Total, w.Count
		}
		series[i] = p
	}

	return Report{
		Today:  day.window(),
		Week:   week.window(),
		Month:  month.window(),
		Series: series,
	}
}

// Filter returns the transactions of every status dated inside r, evaluated in ref's location.
func (ag *Aggregator) Filter(txs []domain.Transaction, r domain.DateRange, ref time.Time) []domain.Transaction {
	today := domain.DateOf(ref)
	window := domain.NewDateRange(inLocation(r.From, today.Location()), inLocation(r.To, today.Location()))

	out := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if window.Contains(eventDate(tx, today)) {
			out = append(out, tx)
		}
	}
	return out
}

// Summarize totals the approved transactions of an arbitrary subset.
func (ag *Aggregator) Summarize(txs []domain.Transaction) Window {
	var acc accumulator
	for _, tx := range txs {
		if tx.IsApproved() {
			acc.add(tx.Amount)
		}
	}
	return acc.window()
}

// Combine merges several tenants' snapshots newest first, for global aggregates.
func (ag *Aggregator) Combine(snapshots ...*domain.Snapshot) []domain.Transaction {
	var n int
	for _, s := range snapshots {
		if s != nil {
			n += len(s.Transactions)
		}
	}
	out := make([]domain.Transaction, 0, n)
	for _, s := range snapshots {
		if s != nil {
			out = append(out, s.Transactions...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ParseRange resolves q against the reference date. With no range the
// trailing 30 days including today are used.
func (ag *Aggregator) ParseRange(q RangeQuery, ref time.Time) (domain.DateRange, error) {
	today := domain.DateOf(ref)
	name := strings.ToLower(strings.TrimSpace(q.Range))

	if name == "" && (q.Start != "" || q.End != "") {
		name = "custom"
	}

	switch {
	case name == "":
		return lastDays(today, DefaultLookbackDays), nil
	case name == "today":
		return domain.NewDateRange(today, today), nil
	case name == "custom":
		return parseCustom(q.Start, q.End, today.Location())
	case strings.HasPrefix(name, "last_"):
		return parseDays(strings.TrimSuffix(strings.TrimPrefix(name, "last_"), "_days"), today, q.Range)
	case strings.HasSuffix(name, "d"):
		return parseDays(strings.TrimSuffix(name, "d"), today, q.Range)
	default:
		return domain.DateRange{}, domain.BadInput("unknown range %q", q.Range)
	}
}

func parseDays(s string, today time.Time, raw string) (domain.DateRange, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > MaxLookbackDays {
		return domain.DateRange{}, domain.BadInput("range %q must be between 1 and %d days", raw, MaxLookbackDays)
	}
	return lastDays(today, n), nil
}

func parseCustom(start, end string, loc *time.Location) (domain.DateRange, error) {
	if start == "" || end == "" {
		return domain.DateRange{}, domain.BadInput("custom range needs start and end")
	}
	from, err := time.ParseInLocation(dateLayout, start, loc)
	if err != nil {
		return domain.DateRange{}, domain.BadInput("invalid start date %q", start)
	}
	to, err := time.ParseInLocation(dateLayout, end, loc)
	if err != nil {
		return domain.DateRange{}, domain.BadInput("invalid end date %q", end)
	}
	if from.After(to) {
		return domain.DateRange{}, domain.BadInput("start %s is after end %s", start, end)
	}
	if to.Sub(from) > MaxLookbackDays*24*time.Hour {
		return domain.DateRange{}, domain.BadInput("range longer than %d days", MaxLookbackDays)
	}
	return domain.NewDateRange(from, to), nil
}

func lastDays(today time.Time, n int) domain.DateRange {
	return domain.NewDateRange(today.AddDate(0, 0, -(n-1)), today)
}

// eventDate is the calendar date of tx in today's location, or today when unknown.
func eventDate(tx domain.Transaction, today time.Time) time.Time {
	if tx.CreatedAt.IsZero() {
		return today
	}
	return domain.DateOf(tx.CreatedAt.In(today.Location()))
}

func inLocation(d time.Time, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// formatRange renders r as "from..to" for logs.
func formatRange(r domain.DateRange) string {
	return fmt.Sprintf("%s..%s", r.From.Format(dateLayout), r.To.Format(dateLayout))
}
