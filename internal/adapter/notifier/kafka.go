package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a synchronous writer that keys partitions by tenant.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// Kafka publishes each new payment as a JSON message keyed by tenant, so a
// tenant's payments stay ordered within one partition.
type Kafka struct {
	writer MessageWriter
}

func NewKafka(w MessageWriter) *Kafka {
	return &Kafka{writer: w}
}

func (n *Kafka) Notify(ctx context.Context, tenantKey string, txs []domain.Transaction) error {
	msgs := make([]kafka.Message, 0, len(txs))
	for _, tx := range txs {
		value, err := json.Marshal(NewPaymentEvent(tenantKey, tx))
		if err != nil {
			return fmt.Errorf("marshal payment event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(tenantKey),
			Value: value,
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := n.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write kafka messages: %w", err)
	}
	return nil
}

func (n *Kafka) Close() error {
	return n.writer.Close()
}
