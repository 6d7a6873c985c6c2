// Package outbox drains the transactional outbox table into a broker
// with at-least-once delivery, backoff and a dead-letter path.
package outbox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Broker publishes a single message to a topic, keyed for per-aggregate
// ordering. Implementations must acknowledge durably before returning
// nil: a nil error is a promise the message will not be silently lost.
type Broker interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

// KafkaBroker publishes over a Kafka/Redpanda-compatible wire protocol
// via segmentio/kafka-go, one *kafka.Writer per topic, each configured
// for full in-sync-replica acknowledgement and key-hashed partitioning.
// The writers do not use an idempotent producer, so a retried send can
// leave a duplicate message on the broker.
type KafkaBroker struct {
	addrs []string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaBroker builds a broker against the given bootstrap addresses.
// Writers are created lazily per topic on first publish.
func NewKafkaBroker(addrs []string) *KafkaBroker {
	return &KafkaBroker{addrs: addrs, writers: make(map[string]*kafka.Writer)}
}

func (b *KafkaBroker) writerFor(topic string) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w, ok := b.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(b.addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}
	b.writers[topic] = w
	return w
}

// Publish sends a single keyed message and waits for the broker's ack.
func (b *KafkaBroker) Publish(ctx context.Context, topic string, key, value []byte) error {
	w := b.writerFor(topic)
	err := w.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes every writer this broker has opened.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for _, w := range b.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// TopicFor derives the topic name for a domain event type: the topic
// prefix, a dot, and the lowercased event type, e.g.
// "payments.paymentauthorized".
func TopicFor(prefix, eventType string) string {
	return prefix + "." + strings.ToLower(eventType)
}

// DLQTopic is the fixed retry-exhausted/unrouteable topic for a prefix.
func DLQTopic(prefix string) string {
	return prefix + ".dlq"
}
