package services

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/dmitrijs2005/scanrebate/internal/server/payoutrail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paidReceipt(t *testing.T, e *env, seed, recipient string) *models.ReceiptRecord {
	t.Helper()
	r := e.approvedReceipt(t, seed, recipient)
	out, err := e.payout.Disburse(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, out.Kind)
	return out.Receipt
}

func TestReconcile_ReturnedRevertsOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := paidReceipt(t, e, "1", "ann@example.com")
	require.Equal(t, "R1", r.PayoutReference)

	ev := models.DeliveryEvent{Reference: "R1", Type: models.EventReturned}
	changed, err := e.reconcile.OnDeliveryEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, changed)

	got := e.get(t, r.ID)
	assert.Equal(t, models.ReceiptApproved, got.Status)
	assert.Empty(t, got.PayoutReference)
	assert.Nil(t, got.PaidAt)
	assert.Equal(t, "payout RETURNED", got.ReviewReason)
	assert.Equal(t, models.PayoutIdle, got.PayoutState)

	changed, err = e.reconcile.OnDeliveryEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, got.Version, e.get(t, r.ID).Version)

	res, err := e.review.Approve(ctx, r.ID, "op")
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, res.Payout.Kind)
	assert.Equal(t, "R2", res.Receipt.PayoutReference)

	calls := e.rail.Calls()
	require.Len(t, calls, 2)
	assert.NotEqual(t, calls[0].IdempotencyKey, calls[1].IdempotencyKey)
}

func TestReconcile_SettledReferenceIsFinal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := paidReceipt(t, e, "1", "ann@example.com")

	changed, err := e.reconcile.OnDeliveryEvent(ctx, models.DeliveryEvent{Reference: "R1", Type: models.EventSucceeded})
	require.NoError(t, err)
	assert.True(t, changed)

	for _, typ := range []models.DeliveryEventType{models.EventSucceeded, models.EventReturned, models.EventRefunded} {
		changed, err := e.reconcile.OnDeliveryEvent(ctx, models.DeliveryEvent{Reference: "R1", Type: typ})
		require.NoError(t, err)
		assert.False(t, changed, typ)
	}

	got := e.get(t, r.ID)
	assert.Equal(t, models.ReceiptPaid, got.Status)
	assert.Equal(t, "R1", got.PayoutReference)
	assert.NotNil(t, got.SettledAt)
}

func TestReconcile_InformationalEvents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := paidReceipt(t, e, "1", "ann@example.com")

	for _, typ := range []models.DeliveryEventType{models.EventHeld, models.EventUnclaimed, models.EventPending} {
		changed, err := e.reconcile.OnDeliveryEvent(ctx, models.DeliveryEvent{Reference: "R1", Type: typ})
		require.NoError(t, err)
		assert.False(t, changed)
	}
	assert.Equal(t, r.Version, e.get(t, r.ID).Version)
}

func TestReconcile_UnknownTypeAndReference(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.reconcile.OnDeliveryEvent(ctx, models.DeliveryEvent{Reference: "R1", Type: "EXPLODED"})
	assert.ErrorIs(t, err, ErrUnknownDeliveryEvent)

	changed, err := e.reconcile.OnDeliveryEvent(ctx, models.DeliveryEvent{Reference: "nope", Type: models.EventFailed})
	require.NoError(t, err)
	assert.False(t, changed)

	pending, err := e.manager.Repositories().PayoutEvents().ListUnapplied(ctx, "nope")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestReconcile_EarlyEventReplayedAfterPaid(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.approvedReceipt(t, "1", "ann@example.com")

	e.rail.respond = func(int, payoutrail.Payout) (*payoutrail.Result, error) {
		changed, err := e.reconcile.OnDeliveryEvent(ctx, models.DeliveryEvent{Reference: "R-fast", Type: models.EventSucceeded})
		require.NoError(t, err)
		require.False(t, changed)
		return &payoutrail.Result{Reference: "R-fast"}, nil
	}

	out, err := e.payout.Disburse(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, out.Kind)

	got := e.get(t, r.ID)
	assert.Equal(t, models.ReceiptPaid, got.Status)
	assert.NotNil(t, got.SettledAt)

	pending, err := e.manager.Repositories().PayoutEvents().ListUnapplied(ctx, "R-fast")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReconcile_RevertFreesPayoutSlot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	paidReceipt(t, e, "1", "ann@example.com")

	_, err := e.reconcile.OnDeliveryEvent(ctx, models.DeliveryEvent{Reference: "R1", Type: models.EventBlocked})
	require.NoError(t, err)

	d, err := e.limiter.Peek(ctx, e.manager.Repositories().RateCounters(), e.policy.PayoutPolicy(), "ann@example.com")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
