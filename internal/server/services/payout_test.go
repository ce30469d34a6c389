package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/dmitrijs2005/scanrebate/internal/server/payoutrail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisburse_ConcurrentCallsPayOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.approvedReceipt(t, "1", "ann@example.com")

	e.rail.entered = make(chan struct{}, 1)
	e.rail.release = make(chan struct{})

	first := make(chan *PayoutOutcome)
	go func() {
		out, err := e.payout.Disburse(ctx, r.ID)
		assert.NoError(t, err)
		first <- out
	}()
	<-e.rail.entered

	second, err := e.payout.Disburse(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, second.Kind)

	close(e.rail.release)
	out := <-first
	assert.Equal(t, OutcomePaid, out.Kind)
	assert.Len(t, e.rail.Calls(), 1)

	third, err := e.payout.Disburse(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, third.Kind)
	assert.Equal(t, "R1", third.Reference)
}

func TestDisburse_ManyConcurrentCalls(t *testing.T) {
	e := newEnv(t)
	r := e.approvedReceipt(t, "1", "ann@example.com")

	const n = 16
	var wg sync.WaitGroup
	kinds := make([]OutcomeKind, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := e.payout.Disburse(context.Background(), r.ID)
			if assert.NoError(t, err) {
				kinds[i] = out.Kind
			}
		}(i)
	}
	wg.Wait()

	paid := 0
	for _, k := range kinds {
		if k == OutcomePaid {
			paid++
		} else {
			assert.Equal(t, OutcomeInProgress, k)
		}
	}
	assert.Equal(t, 1, paid)
	assert.Len(t, e.rail.Calls(), 1)
}

func TestDisburse_UnknownOutcomeIsNotRetried(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.approvedReceipt(t, "1", "ann@example.com")

	e.rail.respond = func(n int, p payoutrail.Payout) (*payoutrail.Result, error) {
		if n == 1 {
			return nil, fmt.Errorf("%w: context deadline exceeded", payoutrail.ErrOutcomeUnknown)
		}
		return &payoutrail.Result{Reference: "R-late"}, nil
	}

	out, err := e.payout.Disburse(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, out.Kind)

	got := e.get(t, r.ID)
	assert.Equal(t, models.ReceiptApproved, got.Status)
	assert.Equal(t, models.PayoutUnknown, got.PayoutState)
	assert.Empty(t, got.PayoutReference)

	again, err := e.payout.Disburse(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, again.Kind)
	assert.Len(t, e.rail.Calls(), 1)

	resolved, err := e.payout.ResolveUnknown(ctx, r.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, resolved.Kind)
	assert.Equal(t, "R-late", resolved.Receipt.PayoutReference)

	calls := e.rail.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].IdempotencyKey, calls[1].IdempotencyKey)
}

func TestDisburse_PermanentRejectionHalts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.approvedReceipt(t, "1", "not-an-email")

	e.rail.respond = func(int, payoutrail.Payout) (*payoutrail.Result, error) {
		return nil, &payoutrail.RejectedError{StatusCode: 422, Name: "VALIDATION_ERROR", Message: "bad recipient"}
	}

	out, err := e.payout.Disburse(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.False(t, out.Retryable)
	assert.Contains(t, out.Reason, "VALIDATION_ERROR")

	got := e.get(t, r.ID)
	assert.Equal(t, models.PayoutHalted, got.PayoutState)
	assert.Contains(t, got.ReviewReason, "bad recipient")

	again, err := e.payout.Disburse(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, again.Kind)
	assert.Len(t, e.rail.Calls(), 1)

	rej, err := e.review.Reject(ctx, r.ID, "op", "invalid recipient")
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptRejected, rej.Status)
	assert.Empty(t, rej.PayoutReference)
}

func TestDisburse_RetryableRejectionAllowsRetry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.approvedReceipt(t, "1", "ann@example.com")

	e.rail.respond = func(n int, p payoutrail.Payout) (*payoutrail.Result, error) {
		if n == 1 {
			return nil, &payoutrail.RejectedError{StatusCode: 429, Name: "RATE_LIMIT_REACHED", Retryable: true}
		}
		return &payoutrail.Result{Reference: "R2"}, nil
	}

	out, err := e.payout.Disburse(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.True(t, out.Retryable)

	got := e.get(t, r.ID)
	assert.Equal(t, models.ReceiptApproved, got.Status)
	assert.Equal(t, models.PayoutIdle, got.PayoutState)
	assert.Equal(t, 1, got.PayoutAttempt)

	res, err := e.review.Approve(ctx, r.ID, "op")
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, res.Payout.Kind)
	assert.Equal(t, "R2", res.Receipt.PayoutReference)

	calls := e.rail.Calls()
	require.Len(t, calls, 2)
	assert.NotEqual(t, calls[0].IdempotencyKey, calls[1].IdempotencyKey)
}

func TestDisburse_PayoutRateLimitPerRecipient(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.approvedReceipt(t, "1", "ann@example.com")
	second := e.approvedReceipt(t, "2", "ann@example.com")

	out, err := e.payout.Disburse(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, out.Kind)

	out, err = e.payout.Disburse(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.True(t, out.Retryable)
	assert.Equal(t, 30*24*time.Hour, out.RetryAfter)

	_, err = e.payout.Disburse(ctx, second.ID)
	require.NoError(t, err)

	got := e.get(t, second.ID)
	assert.Equal(t, models.ReceiptApproved, got.Status)
	assert.Equal(t, models.PayoutIdle, got.PayoutState)
	assert.Equal(t, payoutRateLimitedReason, got.ReviewReason)
	assert.Len(t, e.rail.Calls(), 1)

	e.clock.Advance(30 * 24 * time.Hour)
	out, err = e.payout.Disburse(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, out.Kind)
}

func TestDisburse_RequiresApproval(t *testing.T) {
	e := newEnv(t)
	s := e.scan(t, "1", "A")
	r := e.receipt(t, s.SessionID, "1", "ann@example.com", 0.5)

	_, err := e.payout.Disburse(context.Background(), r.ID)
	assert.True(t, IsConflict(err))
	assert.Empty(t, e.rail.Calls())
}

func TestDisburse_RecordsResultAfterCallerCancels(t *testing.T) {
	e := newEnv(t)
	r := e.approvedReceipt(t, "1", "ann@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	e.rail.respond = func(int, payoutrail.Payout) (*payoutrail.Result, error) {
		cancel()
		return nil, fmt.Errorf("%w: %v", payoutrail.ErrOutcomeUnknown, context.Canceled)
	}

	out, err := e.payout.Disburse(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, out.Kind)
	assert.Equal(t, models.PayoutUnknown, e.get(t, r.ID).PayoutState)
}

func TestExpireStale_ParksInterruptedClaim(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.approvedReceipt(t, "1", "ann@example.com")

	claimed, outcome, err := e.payout.claim(ctx, r.ID)
	require.NoError(t, err)
	require.Nil(t, outcome)
	key := claimed.IdempotencyKey()

	n, err := e.payout.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a fresh claim may still be recorded")
	assert.Equal(t, models.PayoutInFlight, e.get(t, r.ID).PayoutState)

	e.clock.Advance(e.payout.inFlightGrace + time.Second)
	n, err = e.payout.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := e.get(t, r.ID)
	assert.Equal(t, models.ReceiptApproved, got.Status)
	assert.Equal(t, models.PayoutUnknown, got.PayoutState)
	assert.Contains(t, got.ReviewReason, "outcome unknown")

	again, err := e.payout.Disburse(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, again.Kind)
	assert.Empty(t, e.rail.Calls())

	out, err := e.payout.ResolveUnknown(ctx, r.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, out.Kind)

	calls := e.rail.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, key, calls[0].IdempotencyKey)
}

func TestResolveUnknown_StaleInFlight(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.approvedReceipt(t, "1", "ann@example.com")

	_, _, err := e.payout.claim(ctx, r.ID)
	require.NoError(t, err)

	_, err = e.payout.ResolveUnknown(ctx, r.ID, "alice")
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
	assert.Empty(t, e.rail.Calls())

	e.clock.Advance(e.payout.inFlightGrace + time.Second)
	out, err := e.payout.ResolveUnknown(ctx, r.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, out.Kind)
	assert.Equal(t, "R1", out.Reference)
	assert.Equal(t, "alice", out.Receipt.ReviewedBy)
}

func TestWithRailTimeout(t *testing.T) {
	p := NewPayoutService(nil, nil, nil, models.RatePolicy{}, nil, logging.Nop{}, WithRailTimeout(30*time.Second))
	assert.Equal(t, 30*time.Second+settleTimeout, p.inFlightGrace)
}
