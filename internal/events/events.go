// Package events publishes barrier change events for downstream data
// pipelines.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"barriers/api/internal/metrics"
)

const TypeBarrierChanged = "barrier.changed"

// Event describes one committed barrier transaction.
type Event struct {
	Type       string    `json:"type"`
	BarrierID  uuid.UUID `json:"barrier_id"`
	Code       string    `json:"code"`
	Actor      uuid.UUID `json:"actor"`
	Fields     []string  `json:"fields"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events asynchronously. Publish never blocks on the
// broker and never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close()
}

// KafkaPublisher produces events keyed by barrier id so that every change to
// one barrier lands on the same partition in commit order.
type KafkaPublisher struct {
	client  *kgo.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger, m *metrics.Metrics) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(50*time.Millisecond),
		kgo.RecordRetries(5),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, logger: logger, metrics: m}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) {
	rec, err := Record(e)
	if err != nil {
		p.logger.Error("encode change event", "barrier_id", e.BarrierID, "error", err)
		p.metrics.EventPublished(err)
		return
	}
	p.client.Produce(context.WithoutCancel(ctx), rec, func(_ *kgo.Record, err error) {
		p.metrics.EventPublished(err)
		if err != nil {
			p.logger.Error("publish change event", "barrier_id", e.BarrierID, "error", err)
		}
	})
}

// Close flushes buffered records and closes the client.
func (p *KafkaPublisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("flush change events", "error", err)
	}
	p.client.Close()
}

// Record encodes e as a Kafka record.
func Record(e Event) (*kgo.Record, error) {
	if e.Type == "" {
		e.Type = TypeBarrierChanged
	}
	value, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Key:     []byte(e.BarrierID.String()),
		Value:   value,
		Headers: []kgo.RecordHeader{{Key: "type", Value: []byte(e.Type)}},
	}, nil
}

// Memory keeps published events in process. It is used when no broker is
// configured and in tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Publish(_ context.Context, e Event) {
	if e.Type == "" {
		e.Type = TypeBarrierChanged
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *Memory) Close() {}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
