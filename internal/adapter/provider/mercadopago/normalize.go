package mercadopago

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

// syntheticPrefix marks ids built locally because the provider sent none.
const syntheticPrefix = "syn-"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

type searchResponse struct {
	Results []json.RawMessage `json:"results"`
}

// rawPayment covers both the payments search shape and the older account movements shape.
// Fields are kept raw so one badly typed field degrades to its default instead
// of dropping the whole item.
type rawPayment struct {
	ID                json.RawMessage `json:"id"`
	Status            json.RawMessage `json:"status"`
	Type              json.RawMessage `json:"type"`
	TransactionAmount json.RawMessage `json:"transaction_amount"`
	Amount            json.RawMessage `json:"amount"`
	DateCreated       json.RawMessage `json:"date_created"`
	Payer             json.RawMessage `json:"payer"`
	CounterpartName   json.RawMessage `json:"counterpart_name"`
}

// decodeResults parses a provider response body. Items that are not JSON objects are skipped.
func decodeResults(body []byte, tenantKey string, loc *time.Location) ([]domain.Transaction, int, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("decode search response: %w", err)
	}

	txs := make([]domain.Transaction, 0, len(resp.Results))
	skipped := 0
	for _, item := range resp.Results {
		var raw rawPayment
		if err := json.Unmarshal(item, &raw); err != nil {
			skipped++
			continue
		}
		txs = append(txs, normalize(raw, tenantKey, loc))
	}
	return txs, skipped, nil
}

func normalize(raw rawPayment, tenantKey string, loc *time.Location) domain.Transaction {
	rawStatus := rawString(raw.Status)
	if rawStatus == "" {
		rawStatus = rawString(raw.Type)
	}
	dateCreated := rawString(raw.DateCreated)

	amount := parseAmount(raw.TransactionAmount)
	if len(bytes.TrimSpace(raw.TransactionAmount)) == 0 || string(raw.TransactionAmount) == "null" {
		amount = parseAmount(raw.Amount)
	}

	payer := payerName(raw.Payer)
	if payer == "" {
		payer = strings.TrimSpace(rawString(raw.CounterpartName))
	}
	if payer == "" {
		payer = domain.DefaultPayerName
	}

	tx := domain.Transaction{
		ID:        rawID(raw.ID),
		TenantKey: tenantKey,
		PayerName: payer,
		Amount:    amount,
		Status:    domain.ParseStatus(rawStatus),
		RawStatus: rawStatus,
		CreatedAt: parseTimestamp(dateCreated),
	}
	if !tx.CreatedAt.IsZero() {
		tx.LocalTime = tx.CreatedAt.In(loc).Format(domain.LocalTimeLayout)
	}
	if tx.ID == "" {
		tx.ID = syntheticID(tenantKey, dateCreated, amount, payer)
	}
	return tx
}

// rawID accepts numeric and string identifiers.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// rawString returns the value of a JSON string, or "" for anything else.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// payerName reads payer.first_name. A payer that is not an object yields "".
func payerName(raw json.RawMessage) string {
	var payer struct {
		FirstName json.RawMessage `json:"first_name"`
	}
	if err := json.Unmarshal(raw, &payer); err != nil {
		return ""
	}
	return strings.TrimSpace(rawString(payer.FirstName))
}

// parseAmount returns zero for missing, malformed or negative amounts.
func parseAmount(raw json.RawMessage) decimal.Decimal {
	text := strings.Trim(string(bytes.TrimSpace(raw)), `"`)
	if text == "" || text == "null" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(text)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// parseTimestamp returns the zero time when no known layout matches.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// syntheticID is deterministic so re-observing the same payment deduplicates.
func syntheticID(tenantKey, dateCreated string, amount decimal.Decimal, payer string) string {
	name := strings.Join([]string{tenantKey, dateCreated, amount.String(), payer}, "|")
	return syntheticPrefix + uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
