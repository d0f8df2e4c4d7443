package scheduler

import (
	"context"
	"log/slog"
	"time"

	"tixvibe/pkg/contracts"
)

// Job is one pending reservation-window timer, keyed by order id so an
// order can never hold more than one.
type Job struct {
	OrderID  string
	FireAt   time.Time
	Attempts int
}

// JobStore is the durable backing for pending timers; jobs survive process
// restarts. Schedule is idempotent per order id. Due claims ready jobs so
// that concurrent scheduler instances never fire the same job twice.
type JobStore interface {
	Schedule(ctx context.Context, orderID string, fireAt time.Time) error
	Due(ctx context.Context, limit int) ([]Job, error)
	MarkSent(ctx context.Context, orderID string) error
	MarkFailure(ctx context.Context, orderID string, nextRetry time.Time) error
}

type Publisher interface {
	PublishExpirationComplete(ctx context.Context, evt contracts.ExpirationCompleteEvent) error
}

type Scheduler struct {
	jobs      JobStore
	pub       Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func New(jobs JobStore, pub Publisher, interval time.Duration, batch int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:      jobs,
		pub:       pub,
		interval:  interval,
		batchSize: batch,
		logger:    logger,
	}
}

// HandleOrderCreated arms the timer for a fresh reservation. The delay is
// fixed at schedule time from the order's expiresAt; a duplicate delivery
// finds the job already present and changes nothing.
func (s *Scheduler) HandleOrderCreated(ctx context.Context, evt contracts.OrderCreatedEvent) error {
	return s.jobs.Schedule(ctx, evt.ID, evt.ExpiresAt)
}

func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.dispatch(ctx); err != nil {
			s.logger.Error("expiration dispatch failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatch fires every due timer. It does not look at order state at all:
// the signal goes out unconditionally and the orders service decides from
// its own stored status whether the expiration still applies.
func (s *Scheduler) dispatch(ctx context.Context) error {
	jobs, err := s.jobs.Due(ctx, s.batchSize)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if err := s.fire(ctx, job); err != nil {
			s.logger.Warn("fire expiration failed", "order_id", job.OrderID, "err", err)
		}
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, job Job) error {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	evt := contracts.ExpirationCompleteEvent{OrderID: job.OrderID}
	if err := s.pub.PublishExpirationComplete(pubCtx, evt); err != nil {
		nextRetry := time.Now().Add(retryDelay(job.Attempts + 1))
		if markErr := s.jobs.MarkFailure(ctx, job.OrderID, nextRetry); markErr != nil {
			return markErr
		}
		return err
	}

	return s.jobs.MarkSent(ctx, job.OrderID)
}

func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 5 {
		attempts = 5
	}
	delay := time.Duration(1<<attempts) * time.Second
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}
