package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/logging"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("review queue closed")

// ReviewQueue runs AutoReview for accepted receipts on a fixed pool of
// workers, each job bounded by its own timeout.
type ReviewQueue struct {
	review  func(ctx context.Context, receiptID string) error
	logger  logging.Logger
	workers int
	timeout time.Duration

	ch   chan string
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type QueueOption func(*ReviewQueue)

func WithWorkers(n int) QueueOption {
	return func(q *ReviewQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) QueueOption {
	return func(q *ReviewQueue) {
		if n > 0 {
			q.ch = make(chan string, n)
		}
	}
}

func WithJobTimeout(d time.Duration) QueueOption {
	return func(q *ReviewQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewReviewQueue(r *ReviewService, l logging.Logger, opts ...QueueOption) *ReviewQueue {
	return newReviewQueue(func(ctx context.Context, id string) error {
		_, err := r.AutoReview(ctx, id)
		return err
	}, l, opts...)
}

func newReviewQueue(review func(ctx context.Context, receiptID string) error, l logging.Logger, opts ...QueueOption) *ReviewQueue {
	q := &ReviewQueue{
		review:  review,
		logger:  l.With("module", "review_queue"),
		workers: 4,
		timeout: time.Minute,
		ch:      make(chan string, 256),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Start launches the workers. Calling it again does nothing.
func (q *ReviewQueue) Start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.work(i + 1)
		}
	})
}

func (q *ReviewQueue) work(workerID int) {
	defer q.wg.Done()
	base := logging.ContextWith(context.Background(), "worker_id", workerID)
	for id := range q.ch {
		ctx, cancel := context.WithTimeout(base, q.timeout)
		err := q.review(ctx, id)
		cancel()

		if err != nil {
			q.logger.Error(base, "auto review failed", "receipt_id", id, "error", err)
		} else {
			q.logger.Debug(base, "auto review done", "receipt_id", id)
		}
	}
}

// Enqueue blocks while the queue is full, until ctx is done.
func (q *ReviewQueue) Enqueue(ctx context.Context, receiptID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- receiptID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for queued ones to drain.
func (q *ReviewQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn(ctx, "review queue shutdown interrupted")
		return ctx.Err()
	case <-done:
		q.logger.Info(ctx, "review queue drained")
		return nil
	}
}
