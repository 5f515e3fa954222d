package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/ledger"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

type mockRepository struct {
	mu sync.Mutex

	events       []*ledger.OutboxEvent
	eventsErr    error
	processedIDs []int64

	stale      []*ledger.Attempt
	staleErr   error
	staleQuery time.Time
	completed  map[string]ledger.Outcome
}

func newMockRepository() *mockRepository {
	return &mockRepository{completed: make(map[string]ledger.Outcome)}
}

func (m *mockRepository) GetUnprocessedEvents(_ context.Context, limit int) ([]*ledger.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eventsErr != nil {
		return nil, m.eventsErr
	}
	var out []*ledger.OutboxEvent
	for _, e := range m.events {
		if e.ProcessedAt == nil && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockRepository) MarkEventAsProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			m.processedIDs = append(m.processedIDs, id)
			return nil
		}
	}
	return ledger.ErrEventNotFound
}

func (m *mockRepository) GetStaleAttempts(_ context.Context, before time.Time, _ ...string) ([]*ledger.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleQuery = before
	return m.stale, m.staleErr
}

func (m *mockRepository) CompleteAttempt(_ context.Context, id string, out ledger.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[id] = out
	return nil
}

func (m *mockRepository) processed() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.processedIDs...)
}

type mockWriter struct {
	mu       sync.Mutex
	messages []kafkaGo.Message
	failKey  string
	closed   bool
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		if string(m.Key) == w.failKey {
			return errors.New("broker unavailable")
		}
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *mockWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// chanReader feeds messages from a channel and blocks until ctx is done when it is empty.
type chanReader struct {
	messages chan kafkaGo.Message
}

func (r *chanReader) ReadMessage(ctx context.Context) (kafkaGo.Message, error) {
	select {
	case m := <-r.messages:
		return m, nil
	case <-ctx.Done():
		return kafkaGo.Message{}, ctx.Err()
	}
}

func (r *chanReader) Close() error { return nil }

type fakeForgetter struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeForgetter) Forget(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
}

func (f *fakeForgetter) forgotten() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func setupKafka(t *testing.T) (string, func()) {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}
