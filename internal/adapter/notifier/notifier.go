// Package notifier fans newly recorded payments out to downstream sinks.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/metrics"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

// Sink is a named domain.Notifier.
type Sink struct {
	Name     string
	Notifier domain.Notifier
}

// Multi delivers to every sink. A failing sink does not stop the others.
type Multi struct {
	sinks   []Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewMulti creates a fan-out notifier. m may be nil.
func NewMulti(logger *slog.Logger, m *metrics.Metrics, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, logger: logger.With("component", "notifier"), metrics: m}
}

// Add registers another sink. It must be called before the first Notify.
func (n *Multi) Add(name string, notifier domain.Notifier) {
	n.sinks = append(n.sinks, Sink{Name: name, Notifier: notifier})
}

func (n *Multi) Notify(ctx context.Context, tenantKey string, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	var errs []error
	for _, s := range n.sinks {
		result := "ok"
		if err := s.Notifier.Notify(ctx, tenantKey, txs); err != nil {
			result = "error"
			n.logger.Warn("notification sink failed", "sink", s.Name, "tenant", tenantKey, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
		if n.metrics != nil {
			n.metrics.Notifications.WithLabelValues(s.Name, result).Inc()
		}
	}
	return errors.Join(errs...)
}

// Log writes one structured line per new payment.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "payment_log")}
}

func (n *Log) Notify(ctx context.Context, tenantKey string, txs []domain.Transaction) error {
	for _, tx := range txs {
		n.logger.InfoContext(ctx, "new payment",
			"tenant", tenantKey,
			"id", tx.ID,
			"status", tx.Status,
			"amount", tx.Amount.StringFixed(2),
			"payer", tx.PayerName,
		)
	}
	return nil
}

// PaymentEvent is the wire form shared by the message sinks and the live feed.
type PaymentEvent struct {
	Tenant    string `json:"tenant"`
	ID        string `json:"id"`
	Amount    string `json:"amount"`
	Payer     string `json:"payer"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	LocalTime string `json:"local_time"`
}

func NewPaymentEvent(tenantKey string, tx domain.Transaction) PaymentEvent {
	return PaymentEvent{
		Tenant:    tenantKey,
		ID:        tx.ID,
		Amount:    tx.Amount.StringFixed(2),
		Payer:     tx.PayerName,
		Status:    string(tx.Status),
		CreatedAt: tx.CreatedAt.UTC().Format(time.RFC3339),
		LocalTime: tx.LocalTime,
	}
}
