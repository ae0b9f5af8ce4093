package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the normalized payment status. Only StatusApproved counts toward aggregates.
type Status string

const (
	StatusApproved Status = "approved"
	StatusPending  Status = "pending"
	StatusRejected Status = "rejected"
	StatusOther    Status = "other"
)

// DefaultPayerName is used when the provider omits the payer's name.
const DefaultPayerName = "Unknown"

// LocalTimeLayout is the layout of Transaction.LocalTime.
const LocalTimeLayout = "2006-01-02 15:04:05"

// ParseStatus maps a provider status string onto the closed Status set.
// Unknown values become StatusOther.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "accredited", "credited":
		return StatusApproved
	case "pending", "in_process", "authorized", "in_mediation":
		return StatusPending
	case "rejected", "cancelled", "refunded", "charged_back":
		return StatusRejected
	default:
		return StatusOther
	}
}

// Transaction is a payment observed at the provider for one tenant.
// (TenantKey, ID) is unique; amount and status never change after the first insert.
type Transaction struct {
	ID        string          `json:"id"`
	TenantKey string          `json:"tenant_key"`
	PayerName string          `json:"payer_name"`
	Amount    decimal.Decimal `json:"amount"`
	Status    Status          `json:"status"`
	RawStatus string          `json:"raw_status"`
	// CreatedAt is the provider event time. Zero means the provider value could not be parsed.
	CreatedAt time.Time `json:"created_at"`
	LocalTime string    `json:"local_time"`
}

// IsApproved reports whether the transaction counts toward aggregates.
func (t Transaction) IsApproved() bool {
	return t.Status == StatusApproved
}

// Snapshot is a point-in-time copy of a tenant's provider transactions.
type Snapshot struct {
	TenantKey    string
	FetchedAt    time.Time
	Transactions []Transaction
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange builds a range from two dates, dropping their clock component.
func NewDateRange(from, to time.Time) DateRange {
	return DateRange{From: DateOf(from), To: DateOf(to)}
}

// Bounds returns the half-open instant interval [From 00:00, To+1 00:00) in loc.
func (r DateRange) Bounds(loc *time.Location) (time.Time, time.Time) {
	start := time.Date(r.From.Year(), r.From.Month(), r.From.Day(), 0, 0, 0, 0, loc)
	end := time.Date(r.To.Year(), r.To.Month(), r.To.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return start, end
}

// Contains reports whether the calendar date of d falls inside the range.
func (r DateRange) Contains(d time.Time) bool {
	day := DateOf(d)
	return !day.Before(DateOf(r.From)) && !day.After(DateOf(r.To))
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
