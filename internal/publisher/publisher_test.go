package publisher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/progress"
	"sluice/internal/queue"
	"sluice/internal/record"
	"sluice/sink"
)

// scriptSink fails its n-th Send with script[n]; later calls succeed.
type scriptSink struct {
	script   []error
	delay    time.Duration
	jitter   bool
	blocking bool

	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32

	mu     sync.Mutex
	sizes  []int
	byKey  map[string][]int64
	topics []string
}

func (s *scriptSink) Configure(sink.Config) error { return nil }
func (s *scriptSink) Close() error                { return nil }

func (s *scriptSink) Send(ctx context.Context, topic string, msgs []record.Payload) (sink.Result, error) {
	n := int(s.calls.Add(1)) - 1
	cur := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if cur <= p || s.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if s.blocking {
		<-ctx.Done()
		return sink.Result{}, ctx.Err()
	}
	d := s.delay
	if s.jitter && d > 0 {
		d = time.Duration(rand.Int63n(int64(d)))
	}
	if d > 0 {
		time.Sleep(d)
	}
	if n < len(s.script) && s.script[n] != nil {
		return sink.Result{}, s.script[n]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKey == nil {
		s.byKey = map[string][]int64{}
	}
	var res sink.Result
	for _, m := range msgs {
		s.byKey[string(m.Key)] = append(s.byKey[string(m.Key)], m.Offset)
		res.Observe(0, m.Offset)
	}
	s.sizes = append(s.sizes, len(msgs))
	s.topics = append(s.topics, topic)
	return res, nil
}

func testConfig() Config {
	return Config{
		Lanes:           1,
		MaxInFlight:     1,
		BatchSize:       10,
		BatchBytes:      1 << 20,
		Linger:          5 * time.Millisecond,
		Retry:           RetryConfig{Attempts: 5, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		ShutdownTimeout: time.Second,
	}
}

type harness struct {
	pub     *Publisher
	q       *queue.Queue[record.Payload]
	tracker *progress.Tracker
	store   *progress.MemoryStore
}

func newHarness(t *testing.T, cfg Config, s sink.Adapter, capacity int) *harness {
	t.Helper()
	store := progress.NewMemoryStore()
	tr, err := progress.New(context.Background(), store, progress.Key("churn", "hash"), 0)
	require.NoError(t, err)
	q := queue.New[record.Payload](capacity)
	return &harness{
		pub:     New(cfg, "churn", sink.PoolOf(s), q, tr),
		q:       q,
		tracker: tr,
		store:   store,
	}
}

// feed tracks and queues n payloads keyed round-robin over keys, then closes
// the queue.
func (h *harness) feed(t *testing.T, n, keys int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.tracker.Track(context.Background(), int64(i)))
		require.NoError(t, h.q.Push(context.Background(), record.Payload{
			Offset: int64(i),
			Key:    []byte(fmt.Sprintf("k%d", i%keys)),
			Value:  []byte(`{"n":1}`),
		}))
	}
	h.q.Close()
}

func TestPublisher_TransientErrorsThenSuccess(t *testing.T) {
	transient := sink.Retryable(sink.KindTimeout, errors.New("request timed out"))
	s := &scriptSink{script: []error{transient, transient, transient}}
	h := newHarness(t, testConfig(), s, 16)
	h.feed(t, 5, 1)

	require.NoError(t, h.pub.Run(context.Background()))

	st := h.pub.Stats()
	assert.Equal(t, int32(4), s.calls.Load())
	assert.Equal(t, 1, st.Batches)
	assert.Equal(t, 1, st.Acked)
	assert.Equal(t, 3, st.Retried)
	assert.EqualValues(t, 5, st.Delivered)
	assert.Empty(t, st.Undelivered)
	assert.Equal(t, int64(4), h.tracker.Checkpoint())
	assert.Equal(t, []int64{4}, h.store.Saves())
}

func TestPublisher_FatalErrorStops(t *testing.T) {
	s := &scriptSink{script: []error{sink.Fatal(sink.KindAuth, errors.New("topic authorization failed"))}}
	h := newHarness(t, testConfig(), s, 16)
	h.feed(t, 5, 1)

	err := h.pub.Run(context.Background())
	require.Error(t, err)
	assert.True(t, sink.IsFatal(err))

	st := h.pub.Stats()
	assert.Equal(t, int32(1), s.calls.Load())
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, []record.Range{{First: 0, Last: 4}}, st.Undelivered)
	assert.Equal(t, progress.None, h.tracker.Checkpoint())
	assert.Empty(t, h.store.Saves())
}

func TestPublisher_RetriesExhausted(t *testing.T) {
	transient := sink.Retryable(sink.KindUnavailable, errors.New("leader not available"))
	s := &scriptSink{script: []error{transient, transient, transient, transient}}
	cfg := testConfig()
	cfg.Retry.Attempts = 3
	h := newHarness(t, cfg, s, 16)
	h.feed(t, 3, 1)

	err := h.pub.Run(context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(3), s.calls.Load())
	assert.Equal(t, []record.Range{{First: 0, Last: 2}}, h.pub.Stats().Undelivered)
	assert.Equal(t, progress.None, h.tracker.Checkpoint())
}

func TestPublisher_PerKeyOrder(t *testing.T) {
	s := &scriptSink{delay: 2 * time.Millisecond, jitter: true}
	cfg := testConfig()
	cfg.Lanes, cfg.MaxInFlight, cfg.BatchSize = 4, 4, 7
	h := newHarness(t, cfg, s, 500)
	h.feed(t, 500, 10)

	require.NoError(t, h.pub.Run(context.Background()))

	require.Len(t, s.byKey, 10)
	for key, offs := range s.byKey {
		assert.True(t, slices.IsSorted(offs), "key %s out of order", key)
		assert.Len(t, offs, 50)
	}
	assert.Equal(t, int64(499), h.tracker.Checkpoint())
	assert.EqualValues(t, 500, h.pub.Stats().Delivered)
}

func TestPublisher_MaxInFlight(t *testing.T) {
	s := &scriptSink{delay: 5 * time.Millisecond}
	cfg := testConfig()
	cfg.Lanes, cfg.MaxInFlight, cfg.BatchSize = 4, 2, 2
	h := newHarness(t, cfg, s, 64)
	h.feed(t, 40, 8)

	require.NoError(t, h.pub.Run(context.Background()))
	assert.LessOrEqual(t, s.peak.Load(), int32(2))
	assert.LessOrEqual(t, h.pub.Stats().PeakInFlight, int64(2))
	assert.Equal(t, int64(39), h.tracker.Checkpoint())
}

func TestPublisher_BatchesByCount(t *testing.T) {
	s := &scriptSink{}
	cfg := testConfig()
	cfg.BatchSize = 4
	cfg.Linger = time.Hour
	h := newHarness(t, cfg, s, 16)
	h.feed(t, 10, 1)

	require.NoError(t, h.pub.Run(context.Background()))
	assert.Equal(t, []int{4, 4, 2}, s.sizes)
	assert.Equal(t, 3, h.pub.Stats().Acked)
}

func TestPublisher_BatchesByBytes(t *testing.T) {
	s := &scriptSink{}
	cfg := testConfig()
	cfg.BatchSize = 100
	cfg.BatchBytes = 3 * len(`k0{"n":1}`)
	cfg.Linger = time.Hour
	h := newHarness(t, cfg, s, 16)
	h.feed(t, 7, 1)

	require.NoError(t, h.pub.Run(context.Background()))
	assert.Equal(t, []int{3, 3, 1}, s.sizes)
}

func TestPublisher_LingerFlushesPartialBatch(t *testing.T) {
	s := &scriptSink{}
	cfg := testConfig()
	cfg.BatchSize = 100
	cfg.Linger = 10 * time.Millisecond
	h := newHarness(t, cfg, s, 16)

	for i := int64(0); i < 3; i++ {
		require.NoError(t, h.tracker.Track(context.Background(), i))
		require.NoError(t, h.q.Push(context.Background(), record.Payload{Offset: i, Key: []byte("k")}))
	}
	done := make(chan error, 1)
	go func() { done <- h.pub.Run(context.Background()) }()

	assert.Eventually(t, func() bool { return h.tracker.Checkpoint() == 2 }, time.Second, 5*time.Millisecond)
	h.q.Close()
	require.NoError(t, <-done)
	assert.Equal(t, []int{3}, s.sizes)
}

func TestPublisher_StopDrainsQueue(t *testing.T) {
	s := &scriptSink{}
	h := newHarness(t, testConfig(), s, 32)
	h.feed(t, 25, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.pub.Run(ctx))
	assert.Equal(t, int64(24), h.tracker.Checkpoint())
	assert.Empty(t, h.pub.Stats().Undelivered)
}

func TestPublisher_ShutdownTimeoutReportsUndelivered(t *testing.T) {
	s := &scriptSink{blocking: true}
	cfg := testConfig()
	cfg.ShutdownTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg, s, 16)
	h.feed(t, 5, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for s.calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	err := h.pub.Run(ctx)
	require.ErrorIs(t, err, ErrShutdownTimeout)
	assert.Equal(t, []record.Range{{First: 0, Last: 4}}, h.pub.Stats().Undelivered)
	assert.Equal(t, progress.None, h.tracker.Checkpoint())
}

func TestPublisher_PublishDirect(t *testing.T) {
	transient := sink.Retryable(sink.KindTimeout, errors.New("timeout"))
	s := &scriptSink{script: []error{transient}}
	h := newHarness(t, testConfig(), s, 4)

	err := h.pub.PublishDirect(context.Background(), "churn.dlq", record.Payload{Offset: 7, Value: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, []string{"churn.dlq"}, s.topics)
	assert.Equal(t, int32(2), s.calls.Load())
	assert.Equal(t, progress.None, h.tracker.Checkpoint())
}

func TestBatchStateMachine(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Pending, Sent, true},
		{Sent, Acked, true},
		{Sent, FailedRetryable, true},
		{FailedRetryable, Sent, true},
		{Sent, FailedFatal, true},
		{FailedRetryable, FailedFatal, true},
		{Pending, Acked, false},
		{Acked, Sent, false},
		{FailedFatal, Sent, false},
	}
	for _, tc := range tests {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			b := &Batch{State: tc.from}
			assert.Equal(t, tc.ok, b.move(tc.to))
		})
	}
}

func TestRetryBackoffs(t *testing.T) {
	cfg := RetryConfig{Attempts: 5, Backoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond,
	}, cfg.Backoffs())
	assert.Nil(t, RetryConfig{Attempts: 1}.Backoffs())
}

func TestLimiterHonoursCancel(t *testing.T) {
	l := newLimiter(1)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Acquire(ctx), context.DeadlineExceeded)

	l.Release()
	require.NoError(t, l.Acquire(context.Background()))
	assert.Equal(t, int64(1), l.Peak())
}
