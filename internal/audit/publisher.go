package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher records lifecycle events. Emit never blocks issuance: sinks are
// asynchronous and a lost event is logged, not retried.
type Publisher interface {
	Emit(ctx context.Context, event Event)
}

// Noop discards events; used when no brokers are configured.
type Noop struct{}

func (Noop) Emit(context.Context, Event) {}

// Kafka publishes events to a topic, keyed by identity so per-identity
// ordering is preserved across partitions.
type Kafka struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafka connects to the given brokers.
func NewKafka(brokers []string, topic string, logger *slog.Logger) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1 << 20),
	)
	if err != nil {
		return nil, err
	}
	return &Kafka{client: client, topic: topic, logger: logger}, nil
}

// Emit fills in the event identity fields and produces asynchronously.
func (k *Kafka) Emit(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	value, err := json.Marshal(event)
	if err != nil {
		k.logger.ErrorContext(ctx, "marshal audit event", "type", event.Type, "error", err)
		return
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.Identity),
		Value: value,
	}
	k.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			k.logger.WarnContext(ctx, "audit event publish failed",
				"type", event.Type,
				"identity", event.Identity,
				"error", err,
			)
		}
	})
}

// Close flushes buffered records and releases the client.
func (k *Kafka) Close() {
	k.client.Close()
}
