package bookfeed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher receives book update events after each observable mutation.
//
// IMPORTANT: Implementations must either:
//  1. Process updates synchronously before returning, OR
//  2. Clone the Update data before returning
//
// The caller may reuse Update objects after Publish returns, so any
// asynchronous processing must work with cloned data.
type Publisher interface {
	Publish(...*Update)
	Close() error
}

// MemoryPublisher stores updates in memory, useful for testing.
type MemoryPublisher struct {
	mu      sync.RWMutex
	updates []*Update
}

// NewMemoryPublisher creates a new MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		updates: make([]*Update, 0),
	}
}

// Publish appends updates to the in-memory slice.
func (m *MemoryPublisher) Publish(updates ...*Update) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		cpy := new(Update)
		*cpy = *u
		m.updates = append(m.updates, cpy)
	}
}

// Count returns the number of updates stored.
func (m *MemoryPublisher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.updates)
}

// Get returns the update at the specified index.
func (m *MemoryPublisher) Get(index int) *Update {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.updates[index]
}

// Updates returns a copy of all updates stored.
func (m *MemoryPublisher) Updates() []*Update {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Update, len(m.updates))
	copy(out, m.updates)
	return out
}

// Close does nothing.
func (m *MemoryPublisher) Close() error {
	return nil
}

// DiscardPublisher discards all updates, useful for benchmarking.
type DiscardPublisher struct {
}

// NewDiscardPublisher creates a new DiscardPublisher.
func NewDiscardPublisher() *DiscardPublisher {
	return &DiscardPublisher{}
}

// Publish does nothing.
func (p *DiscardPublisher) Publish(updates ...*Update) {

}

// Close does nothing.
func (p *DiscardPublisher) Close() error {
	return nil
}

// KafkaPublisher writes updates to a Kafka topic as JSON keyed by instrument,
// so a partitioned topic keeps per-instrument ordering. Writes happen before
// Publish returns; broker errors are logged and counted, never surfaced to
// the apply path.
type KafkaPublisher struct {
	writer  *kafka.Writer
	metrics *Metrics
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
// A nil Metrics disables counting.
func NewKafkaPublisher(brokers []string, topic string, m *Metrics) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		metrics: m,
	}
}

// Publish serializes and writes the updates in one batch.
func (p *KafkaPublisher) Publish(updates ...*Update) {
	if len(updates) == 0 {
		return
	}

	msgs := make([]kafka.Message, 0, len(updates))
	for _, u := range updates {
		value, err := json.Marshal(u)
		if err != nil {
			logger.Error("marshal update failed", "error", err, "inst_id", u.InstID)
			p.metrics.publishError()
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(u.InstID),
			Value: value,
		})
	}
	if len(msgs) == 0 {
		return
	}

	if err := p.writer.WriteMessages(context.Background(), msgs...); err != nil {
		logger.Error("kafka publish failed", "error", err, "count", len(msgs))
		p.metrics.publishError()
	}
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
