package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudgate/internal/fraud"
)

// fakeProducer acknowledges every message on its delivery channel, or
// withholds the acknowledgement when hold is set.
type fakeProducer struct {
	mu         sync.Mutex
	messages   []*kafka.Message
	produceErr error
	deliverErr error
	hold       bool
	flushed    bool
	events     chan kafka.Event
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{events: make(chan kafka.Event, 4)}
}

func (f *fakeProducer) Produce(msg *kafka.Message, delivery chan kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.produceErr != nil {
		return f.produceErr
	}
	f.messages = append(f.messages, msg)
	if !f.hold {
		ack := *msg
		ack.TopicPartition.Error = f.deliverErr
		delivery <- &ack
	}
	return nil
}

func (f *fakeProducer) Events() chan kafka.Event { return f.events }

func (f *fakeProducer) Flush(int) int {
	f.mu.Lock()
	f.flushed = true
	f.mu.Unlock()
	return 0
}

func (f *fakeProducer) Close() { close(f.events) }

func testAssessment() *fraud.Assessment {
	return &fraud.Assessment{
		ID:              "fa_123",
		UserID:          "user-42",
		TransactionType: "Purchase",
		Amount:          1500,
		Probability:     0.91,
		Decision:        fraud.DecisionBlock,
		ModelID:         "mdl_abc",
		Features:        []float64{1, 2, 3},
		EvaluatedAt:     time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKafkaPublisher_Publish(t *testing.T) {
	fp := newFakeProducer()
	pub := newKafkaPublisher(fp, "fraud_decisions", discardLogger())
	defer pub.Close()

	require.NoError(t, pub.Publish(context.Background(), testAssessment()))

	require.Len(t, fp.messages, 1)
	msg := fp.messages[0]
	assert.Equal(t, "fraud_decisions", *msg.TopicPartition.Topic)
	assert.Equal(t, kafka.PartitionAny, msg.TopicPartition.Partition)
	assert.Equal(t, []byte("user-42"), msg.Key)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, TypeDecision, headers["type"])
	assert.Equal(t, "block", headers["decision"])

	var ev map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, "fraud.decision", ev["type"])
	assert.Equal(t, "fa_123", ev["assessmentId"])
	assert.Equal(t, "block", ev["decision"])
	assert.InDelta(t, 0.91, ev["probability"], 1e-12)
	assert.NotContains(t, ev, "features")
}

func TestKafkaPublisher_Errors(t *testing.T) {
	t.Run("produce rejected", func(t *testing.T) {
		fp := newFakeProducer()
		fp.produceErr = errors.New("queue full")
		pub := newKafkaPublisher(fp, "t", discardLogger())
		defer pub.Close()

		err := pub.Publish(context.Background(), testAssessment())
		assert.ErrorContains(t, err, "queue full")
	})

	t.Run("delivery failed", func(t *testing.T) {
		fp := newFakeProducer()
		fp.deliverErr = kafka.NewError(kafka.ErrMsgTimedOut, "timed out", false)
		pub := newKafkaPublisher(fp, "t", discardLogger())
		defer pub.Close()

		var kerr kafka.Error
		err := pub.Publish(context.Background(), testAssessment())
		require.Error(t, err)
		assert.True(t, errors.As(err, &kerr))
		assert.Equal(t, kafka.ErrMsgTimedOut, kerr.Code())
	})

	t.Run("context expires before ack", func(t *testing.T) {
		fp := newFakeProducer()
		fp.hold = true
		pub := newKafkaPublisher(fp, "t", discardLogger())
		defer pub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, pub.Publish(ctx, testAssessment()), context.DeadlineExceeded)
	})
}

func TestKafkaPublisher_CloseFlushes(t *testing.T) {
	fp := newFakeProducer()
	pub := newKafkaPublisher(fp, "t", discardLogger())
	fp.events <- kafka.NewError(kafka.ErrAllBrokersDown, "brokers down", false)

	pub.Close()
	assert.True(t, fp.flushed)
}

func TestNewDecisionEvent(t *testing.T) {
	ev := NewDecisionEvent(testAssessment())
	assert.Equal(t, DecisionEvent{
		Type:            TypeDecision,
		AssessmentID:    "fa_123",
		UserID:          "user-42",
		TransactionType: "Purchase",
		Amount:          1500,
		Probability:     0.91,
		Decision:        fraud.DecisionBlock,
		ModelID:         "mdl_abc",
		EvaluatedAt:     time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}, ev)
}
