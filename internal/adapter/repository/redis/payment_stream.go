package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

const defaultStreamMaxLen = 100_000

// PaymentStream publishes newly recorded transactions to a Redis stream so that
// other services can consume them with consumer groups.
type PaymentStream struct {
	client      *redis.Client
	stream      string
	maxLen      int64
	logger      *slog.Logger
	isAvailable atomic.Bool
}

// NewPaymentStream creates a stream publisher. maxLen <= 0 uses a default cap.
func NewPaymentStream(client *redis.Client, stream string, maxLen int64, logger *slog.Logger) *PaymentStream {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	s := &PaymentStream{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With("component", "payment_stream"),
	}
	s.isAvailable.Store(true)
	return s
}

// Notify appends one stream entry per transaction in a single pipeline.
func (s *PaymentStream) Notify(ctx context.Context, tenantKey string, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tx := range txs {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: s.stream,
				MaxLen: s.maxLen,
				Approx: true,
				Values: streamValues(tenantKey, tx),
			})
		}
		return nil
	})
	if err != nil {
		if s.isAvailable.CompareAndSwap(true, false) {
			s.logger.Error("redis stream unavailable", "stream", s.stream, "error", err)
		}
		return fmt.Errorf("publish to stream %s: %w", s.stream, err)
	}
	if s.isAvailable.CompareAndSwap(false, true) {
		s.logger.Info("redis stream recovered", "stream", s.stream)
	}
	return nil
}

// Available reports whether the last publish succeeded.
func (s *PaymentStream) Available() bool {
	return s.isAvailable.Load()
}

// StreamStats summarizes the stream for the admin listener.
type StreamStats struct {
	Stream string       `json:"stream"`
	Length int64        `json:"length"`
	Groups []GroupStats `json:"groups"`
}

// GroupStats describes one consumer group reading the stream.
type GroupStats struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	LastDeliveredID string `json:"last_delivered_id"`
}

// Stats returns the stream length and its consumer groups.
func (s *PaymentStream) Stats(ctx context.Context) (*StreamStats, error) {
	length, err := s.client.XLen(ctx, s.stream).Result()
	if err != nil {
		return nil, fmt.Errorf("stream length: %w", err)
	}

	stats := &StreamStats{Stream: s.stream, Length: length, Groups: []GroupStats{}}
	groups, err := s.client.XInfoGroups(ctx, s.stream).Result()
	if err != nil {
		// XINFO fails on a stream that was never written to.
		if length == 0 {
			return stats, nil
		}
		return nil, fmt.Errorf("stream groups: %w", err)
	}
	for _, g := range groups {
		stats.Groups = append(stats.Groups, GroupStats{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
		})
	}
	return stats, nil
}

func streamValues(tenantKey string, tx domain.Transaction) map[string]interface{} {
	return map[string]interface{}{
		"tenant":     tenantKey,
		"id":         tx.ID,
		"amount":     tx.Amount.StringFixed(2),
		"payer":      tx.PayerName,
		"status":     string(tx.Status),
		"created_at": tx.CreatedAt.UTC().Format(time.RFC3339),
		"local_time": tx.LocalTime,
	}
}
