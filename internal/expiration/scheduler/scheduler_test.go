package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tixvibe/pkg/contracts"
)

const orderID = "9b8a7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"

type memoryJob struct {
	fireAt    time.Time
	sent      bool
	attempts  int
	nextRetry time.Time
}

type memoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*memoryJob
}

func newMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{jobs: make(map[string]*memoryJob)}
}

func (s *memoryJobStore) Schedule(_ context.Context, orderID string, fireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[orderID]; ok {
		return nil
	}
	s.jobs[orderID] = &memoryJob{fireAt: fireAt}
	return nil
}

func (s *memoryJobStore) Due(_ context.Context, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []Job
	for id, j := range s.jobs {
		if j.sent || len(out) >= limit {
			continue
		}
		ready := j.fireAt.Before(now) && j.attempts == 0
		retrying := j.attempts > 0 && j.nextRetry.Before(now)
		if ready || retrying {
			out = append(out, Job{OrderID: id, FireAt: j.fireAt, Attempts: j.attempts})
		}
	}
	return out, nil
}

func (s *memoryJobStore) MarkSent(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[orderID].sent = true
	return nil
}

func (s *memoryJobStore) MarkFailure(_ context.Context, orderID string, nextRetry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[orderID]
	j.attempts++
	j.nextRetry = nextRetry
	return nil
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishExpirationComplete(ctx context.Context, evt contracts.ExpirationCompleteEvent) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

func newTestScheduler(store JobStore, pub Publisher) *Scheduler {
	return New(store, pub, time.Second, 100, slog.Default())
}

func TestScheduleIsIdempotentPerOrder(t *testing.T) {
	store := newMemoryJobStore()
	sched := newTestScheduler(store, &mockPublisher{})
	ctx := context.Background()

	first := time.Now().Add(15 * time.Minute)
	evt := contracts.OrderCreatedEvent{ID: orderID, ExpiresAt: first}
	require.NoError(t, sched.HandleOrderCreated(ctx, evt))

	// A redelivered order.created must not re-arm or move the timer.
	evt.ExpiresAt = first.Add(time.Hour)
	require.NoError(t, sched.HandleOrderCreated(ctx, evt))

	assert.Len(t, store.jobs, 1)
	assert.Equal(t, first, store.jobs[orderID].fireAt)
}

func TestDispatchFiresDueJobs(t *testing.T) {
	store := newMemoryJobStore()
	pub := &mockPublisher{}
	sched := newTestScheduler(store, pub)
	ctx := context.Background()

	require.NoError(t, store.Schedule(ctx, orderID, time.Now().Add(-time.Second)))
	pub.On("PublishExpirationComplete", mock.Anything, contracts.ExpirationCompleteEvent{OrderID: orderID}).Return(nil)

	require.NoError(t, sched.dispatch(ctx))

	pub.AssertNumberOfCalls(t, "PublishExpirationComplete", 1)
	assert.True(t, store.jobs[orderID].sent)

	// A second pass finds nothing left to fire.
	require.NoError(t, sched.dispatch(ctx))
	pub.AssertNumberOfCalls(t, "PublishExpirationComplete", 1)
}

func TestDispatchLeavesFutureJobsAlone(t *testing.T) {
	store := newMemoryJobStore()
	pub := &mockPublisher{}
	sched := newTestScheduler(store, pub)
	ctx := context.Background()

	require.NoError(t, store.Schedule(ctx, orderID, time.Now().Add(15*time.Minute)))

	require.NoError(t, sched.dispatch(ctx))
	pub.AssertNotCalled(t, "PublishExpirationComplete", mock.Anything, mock.Anything)
}

func TestFailedPublishIsRetriedLater(t *testing.T) {
	store := newMemoryJobStore()
	pub := &mockPublisher{}
	sched := newTestScheduler(store, pub)
	ctx := context.Background()

	require.NoError(t, store.Schedule(ctx, orderID, time.Now().Add(-time.Second)))
	pub.On("PublishExpirationComplete", mock.Anything, mock.Anything).Return(assert.AnError)

	require.NoError(t, sched.dispatch(ctx))

	j := store.jobs[orderID]
	assert.False(t, j.sent)
	assert.Equal(t, 1, j.attempts)
	assert.True(t, j.nextRetry.After(time.Now()))
}

func TestRetryDelayBacksOffAndCaps(t *testing.T) {
	assert.Equal(t, time.Second, retryDelay(0))
	assert.Equal(t, 2*time.Second, retryDelay(1))
	assert.Equal(t, 4*time.Second, retryDelay(2))
	assert.Equal(t, 32*time.Second, retryDelay(5))
	assert.Equal(t, 32*time.Second, retryDelay(10))
}
