package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReviewQueue_ProcessesAndDrains(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	var failures atomic.Int32

	q := newReviewQueue(func(ctx context.Context, id string) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		mu.Lock()
		seen[id] = true
		mu.Unlock()
		if id == "bad" {
			failures.Add(1)
			return errors.New("boom")
		}
		return nil
	}, logging.Nop{}, WithWorkers(3), WithQueueSize(2), WithJobTimeout(time.Second))
	q.Start()
	q.Start()

	ids := []string{"a", "b", "c", "d", "bad", "e"}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(context.Background(), id))
	}
	require.NoError(t, q.Shutdown(context.Background()))

	assert.Len(t, seen, len(ids))
	assert.Equal(t, int32(1), failures.Load())

	assert.ErrorIs(t, q.Enqueue(context.Background(), "late"), ErrQueueClosed)
	assert.NoError(t, q.Shutdown(context.Background()))
}

func TestReviewQueue_EnqueueRespectsContext(t *testing.T) {
	q := newReviewQueue(func(context.Context, string) error { return nil }, logging.Nop{}, WithQueueSize(1))
	require.NoError(t, q.Enqueue(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, "b"), context.DeadlineExceeded)
}

func TestReviewQueue_AutoReviewsReceipts(t *testing.T) {
	e := newEnv(t)
	q := NewReviewQueue(e.review, logging.Nop{}, WithWorkers(2))
	q.Start()

	s := e.scan(t, "1", "A")
	r := e.receipt(t, s.SessionID, "1", "ann@example.com", 0.95)
	require.NoError(t, q.Enqueue(context.Background(), r.ID))
	require.NoError(t, q.Shutdown(context.Background()))

	assert.Equal(t, "R1", e.get(t, r.ID).PayoutReference)
}
