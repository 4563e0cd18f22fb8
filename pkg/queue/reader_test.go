package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/atomic"
)

const testTopic = "dispatch-test-topic"

func testCluster(t *testing.T) Config {
	t.Helper()

	fake, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, testTopic))
	require.NoError(t, err)
	t.Cleanup(fake.Close)

	return Config{
		Address:        fake.ListenAddrs()[0],
		Topic:          testTopic,
		ClientID:       "usher-test",
		DialTimeout:    2 * time.Second,
		WriteTimeout:   5 * time.Second,
		ConsumerGroup:  "dispatch-test-group",
		SessionTimeout: 10 * time.Second,
		RetryBackoff: backoff.Config{
			MinBackoff: 10 * time.Millisecond,
			MaxBackoff: 50 * time.Millisecond,
			MaxRetries: 3,
		},
	}
}

func testProducer(t *testing.T, cfg Config) *Producer {
	t.Helper()

	client, err := NewWriterClient(cfg, nil, log.NewNopLogger())
	require.NoError(t, err)
	p := NewProducer(client, cfg.Topic)
	t.Cleanup(p.Close)
	return p
}

func startReader(t *testing.T, cfg Config, handle Handler) *Reader {
	t.Helper()

	reader, err := NewReader(cfg, handle, log.NewNopLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, services.StartAndAwaitRunning(context.Background(), reader))
	t.Cleanup(func() {
		_ = services.StopAndAwaitTerminated(context.Background(), reader)
	})
	return reader
}

func committedOffset(ctx context.Context, t *testing.T, p *Producer, cfg Config) int64 {
	t.Helper()

	offsets, err := kadm.NewClient(p.client).FetchOffsets(ctx, cfg.ConsumerGroup)
	if err != nil {
		return -1
	}
	offset, ok := offsets.Lookup(cfg.Topic, 0)
	if !ok {
		return -1
	}
	return offset.At
}

func TestReaderProcessesAndCommits(t *testing.T) {
	ctx := context.Background()
	cfg := testCluster(t)

	var mtx sync.Mutex
	var handled []DispatchTask
	startReader(t, cfg, func(_ context.Context, task DispatchTask) error {
		mtx.Lock()
		defer mtx.Unlock()
		handled = append(handled, task)
		return nil
	})

	producer := testProducer(t, cfg)
	require.NoError(t, producer.Enqueue(ctx, DispatchTask{ID: "r1", TaskID: "t1"}))
	require.NoError(t, producer.Enqueue(ctx, DispatchTask{ID: "r2", TaskID: "t2"}))

	require.Eventually(t, func() bool {
		mtx.Lock()
		defer mtx.Unlock()
		return len(handled) == 2
	}, 15*time.Second, 50*time.Millisecond)

	mtx.Lock()
	require.Equal(t, []DispatchTask{{ID: "r1", TaskID: "t1"}, {ID: "r2", TaskID: "t2"}}, handled)
	mtx.Unlock()

	// acks happen after completion: both offsets end up committed
	require.Eventually(t, func() bool {
		return committedOffset(ctx, t, producer, cfg) == 2
	}, 15*time.Second, 50*time.Millisecond)
}

func TestReaderRetriesFailingTask(t *testing.T) {
	ctx := context.Background()
	cfg := testCluster(t)

	attempts := atomic.NewInt32(0)
	startReader(t, cfg, func(_ context.Context, _ DispatchTask) error {
		if attempts.Inc() < 3 {
			return errors.New("store unreachable")
		}
		return nil
	})

	producer := testProducer(t, cfg)
	require.NoError(t, producer.Enqueue(ctx, DispatchTask{ID: "r1", TaskID: "t1"}))

	require.Eventually(t, func() bool {
		return attempts.Load() == 3
	}, 15*time.Second, 50*time.Millisecond)

	// the task succeeded on the third attempt and was acked
	require.Eventually(t, func() bool {
		return committedOffset(ctx, t, producer, cfg) == 1
	}, 15*time.Second, 50*time.Millisecond)
}

func TestReaderDropsMalformedTask(t *testing.T) {
	ctx := context.Background()
	cfg := testCluster(t)

	var mtx sync.Mutex
	var handled []DispatchTask
	startReader(t, cfg, func(_ context.Context, task DispatchTask) error {
		mtx.Lock()
		defer mtx.Unlock()
		handled = append(handled, task)
		return nil
	})

	producer := testProducer(t, cfg)
	res := producer.client.ProduceSync(ctx, &kgo.Record{Topic: cfg.Topic, Value: []byte("{not json")})
	require.NoError(t, res.FirstErr())
	require.NoError(t, producer.Enqueue(ctx, DispatchTask{ID: "r2", TaskID: "t2"}))

	require.Eventually(t, func() bool {
		mtx.Lock()
		defer mtx.Unlock()
		return len(handled) == 1
	}, 15*time.Second, 50*time.Millisecond)

	mtx.Lock()
	require.Equal(t, "r2", handled[0].ID)
	mtx.Unlock()

	// the malformed record is skipped, not redelivered
	require.Eventually(t, func() bool {
		return committedOffset(ctx, t, producer, cfg) == 2
	}, 15*time.Second, 50*time.Millisecond)
}

func TestReaderMintsTaskID(t *testing.T) {
	ctx := context.Background()
	cfg := testCluster(t)

	taskIDs := make(chan string, 1)
	startReader(t, cfg, func(_ context.Context, task DispatchTask) error {
		taskIDs <- task.TaskID
		return nil
	})

	producer := testProducer(t, cfg)
	require.NoError(t, producer.Enqueue(ctx, DispatchTask{ID: "r1"}))

	select {
	case id := <-taskIDs:
		require.NotEmpty(t, id)
	case <-time.After(15 * time.Second):
		t.Fatal("task was not delivered")
	}
}

func TestReaderResumesFromCommittedOffset(t *testing.T) {
	ctx := context.Background()
	cfg := testCluster(t)
	producer := testProducer(t, cfg)

	var mtx sync.Mutex
	var firstRun []string
	reader1, err := NewReader(cfg, func(_ context.Context, task DispatchTask) error {
		mtx.Lock()
		defer mtx.Unlock()
		firstRun = append(firstRun, task.ID)
		return nil
	}, log.NewNopLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, services.StartAndAwaitRunning(ctx, reader1))

	require.NoError(t, producer.Enqueue(ctx, DispatchTask{ID: "r1", TaskID: "t1"}))
	require.NoError(t, producer.Enqueue(ctx, DispatchTask{ID: "r2", TaskID: "t2"}))

	require.Eventually(t, func() bool {
		mtx.Lock()
		defer mtx.Unlock()
		return len(firstRun) == 2
	}, 15*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool {
		return committedOffset(ctx, t, producer, cfg) == 2
	}, 15*time.Second, 50*time.Millisecond)
	require.NoError(t, services.StopAndAwaitTerminated(ctx, reader1))

	require.NoError(t, producer.Enqueue(ctx, DispatchTask{ID: "r3", TaskID: "t3"}))

	secondRun := make(chan string, 10)
	startReader(t, cfg, func(_ context.Context, task DispatchTask) error {
		secondRun <- task.ID
		return nil
	})

	// only the task produced after the committed offset is delivered
	select {
	case id := <-secondRun:
		require.Equal(t, "r3", id)
	case <-time.After(15 * time.Second):
		t.Fatal("task was not redelivered to the new reader")
	}

	select {
	case id := <-secondRun:
		t.Fatalf("unexpected duplicate delivery of %s", id)
	case <-time.After(500 * time.Millisecond):
	}
}
