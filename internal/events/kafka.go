package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/mbd888/fraudgate/internal/fraud"
)

// flushTimeoutMs bounds how long Close waits for queued messages.
const flushTimeoutMs = 5000

// producer is the subset of *kafka.Producer the publisher uses.
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// KafkaPublisher writes a DecisionEvent per assessment, keyed by user id so
// a user's decisions stay ordered within a partition.
type KafkaPublisher struct {
	producer producer
	topic    string
	logger   *slog.Logger
	done     chan struct{}
}

// NewKafkaPublisher connects a producer to brokers (comma separated).
func NewKafkaPublisher(brokers, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"client.id":         "fraudgate",
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newKafkaPublisher(p, topic, logger), nil
}

func newKafkaPublisher(p producer, topic string, logger *slog.Logger) *KafkaPublisher {
	k := &KafkaPublisher{producer: p, topic: topic, logger: logger, done: make(chan struct{})}
	go k.watch()
	return k
}

// watch drains producer-level events; per-message reports go to the
// delivery channel passed to Produce.
func (k *KafkaPublisher) watch() {
	defer close(k.done)
	for ev := range k.producer.Events() {
		if kerr, ok := ev.(kafka.Error); ok {
			k.logger.Warn("kafka producer error", "code", kerr.Code().String(), "error", kerr)
		}
	}
}

// Publish implements fraud.Publisher. It waits for the broker
// acknowledgement or ctx, whichever comes first.
func (k *KafkaPublisher) Publish(ctx context.Context, a *fraud.Assessment) error {
	value, err := json.Marshal(NewDecisionEvent(a))
	if err != nil {
		return fmt.Errorf("marshal decision event: %w", err)
	}

	delivery := make(chan kafka.Event, 1)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            []byte(a.UserID),
		Value:          value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(TypeDecision)},
			{Key: "decision", Value: []byte(a.Decision)},
		},
	}, delivery)
	if err != nil {
		return fmt.Errorf("produce to %s: %w", k.topic, err)
	}

	select {
	case ev := <-delivery:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %v", ev)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("deliver to %s: %w", k.topic, m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes outstanding messages and releases the producer.
func (k *KafkaPublisher) Close() {
	if left := k.producer.Flush(flushTimeoutMs); left > 0 {
		k.logger.Warn("kafka messages not flushed before close", "count", left)
	}
	k.producer.Close()
	<-k.done
}
