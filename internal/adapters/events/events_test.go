package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/memory"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingPublisher struct {
	mu       sync.Mutex
	failFor  map[string]bool
	messages []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ []byte, partitionKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor[eventType] {
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, eventType+"@"+partitionKey)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enqueue(t *testing.T, outbox ports.OutboxRepository, id, eventType, key string) {
	t.Helper()
	require.NoError(t, outbox.Enqueue(context.Background(), ports.OutboxRecord{
		OutboxID:     id,
		EventType:    eventType,
		PartitionKey: key,
		Payload:      []byte(`{}`),
		CreatedAt:    time.Now().UTC(),
	}))
}

func TestOutboxWorkerPublishesInOrder(t *testing.T) {
	repos := memory.NewRepositories()
	enqueue(t, repos.Outbox, "evt-1", "order.created", "ord-1")
	enqueue(t, repos.Outbox, "evt-2", "order.status_changed", "ord-1")
	pub := &recordingPublisher{}
	worker := NewOutboxWorker(discardLogger(), repos.Outbox, pub, OutboxWorkerConfig{})

	stats, err := worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Claimed: 2, Published: 2}, stats)
	assert.Equal(t, []string{"order.created@ord-1", "order.status_changed@ord-1"}, pub.published())
	assert.Empty(t, repos.Outbox.Pending())
}

func TestOutboxWorkerDeadLettersAfterMaxRetries(t *testing.T) {
	repos := memory.NewRepositories()
	enqueue(t, repos.Outbox, "evt-1", "payment.paid", "PAY-1")
	pub := &recordingPublisher{failFor: map[string]bool{"payment.paid": true}}
	worker := NewOutboxWorker(discardLogger(), repos.Outbox, pub, OutboxWorkerConfig{MaxRetries: 2})
	ctx := context.Background()

	stats, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.DeadLettered)
	pending := repos.Outbox.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)

	stats, err = worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadLettered)
	assert.Empty(t, repos.Outbox.Pending())

	stats, err = worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)
}

func TestOutboxWorkerRunStopsOnCancel(t *testing.T) {
	repos := memory.NewRepositories()
	enqueue(t, repos.Outbox, "evt-1", "tab.opened", "tab-1")
	pub := &recordingPublisher{}
	worker := NewOutboxWorker(discardLogger(), repos.Outbox, pub, OutboxWorkerConfig{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestKafkaPublisherTopicRouting(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "wawa", nil)
	require.Error(t, err)

	pub, err := NewKafkaPublisher([]string{"localhost:9092"}, "wawa.", map[string]string{"payment.paid": "payments"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })
	assert.Equal(t, "payments", pub.topicFor("payment.paid"))
	assert.Equal(t, "wawa.order.created", pub.topicFor("order.created"))
}

func TestSweepSchedulerRejectsBadSchedule(t *testing.T) {
	_, err := NewSweepScheduler(discardLogger(), []Sweep{{
		Name:     "expire_rewards",
		Schedule: "every now and then",
		Run:      func(context.Context) (int, error) { return 0, nil },
	}})
	require.Error(t, err)
}

func TestSweepSchedulerRunsAndStops(t *testing.T) {
	var runs atomic.Int32
	scheduler, err := NewSweepScheduler(discardLogger(), []Sweep{{
		Name:     "verify_stale_payments",
		Schedule: "@every 1s",
		Run: func(context.Context) (int, error) {
			runs.Add(1)
			return 2, nil
		},
	}})
	require.NoError(t, err)

	scheduler.RunNow(context.Background(), Sweep{
		Name: "expire_points",
		Run:  func(context.Context) (int, error) { return 0, errors.New("db down") },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
