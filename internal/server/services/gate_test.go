package services

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/server/fingerprint"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireRejection(t *testing.T, err error, reason error) *Rejection {
	t.Helper()
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	require.ErrorIs(t, err, reason)
	return rej
}

func TestSubmitScan_Accepted(t *testing.T) {
	e := newEnv(t)
	s := e.scan(t, "1", "10.0.0.1")

	assert.Regexp(t, regexp.MustCompile(`^scan-\d+-[0-9a-f]{16}$`), s.SessionID)
	assert.Equal(t, models.ScanAwaitingReceipt, s.Status)
	assert.Equal(t, "stub", s.DetectedLabel)
	assert.Equal(t, t0, s.CreatedAt)

	_, ok := e.evidence.Get("scans/" + s.ContentHash)
	assert.True(t, ok)
}

func TestSubmitScan_InputRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.gate.SubmitScan(ctx, ScanSubmission{Image: []byte("just some plain text, not an image"), SourceAddress: "a"})
	rej := requireRejection(t, err, common.ErrInvalidFormat)
	assert.Equal(t, "invalid_format", rej.Code())
	assert.False(t, rej.Retryable())

	big := append(append([]byte{}, pngMagic...), make([]byte, 1024)...)
	_, err = e.gate.SubmitScan(ctx, ScanSubmission{Image: big, SourceAddress: "a"})
	requireRejection(t, err, common.ErrSizeOutOfBounds)

	_, err = e.gate.SubmitScan(ctx, ScanSubmission{Image: pngMagic, SourceAddress: "a"})
	requireRejection(t, err, common.ErrSizeOutOfBounds)

	c, err := e.manager.Repositories().RateCounters().Get(ctx, "scan:a")
	assert.Nil(t, c)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSubmitScan_DuplicateContent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	img := image("same")

	_, err := e.gate.SubmitScan(ctx, ScanSubmission{Image: img, SourceAddress: "a"})
	require.NoError(t, err)
	_, err = e.gate.SubmitScan(ctx, ScanSubmission{Image: img, SourceAddress: "b"})
	rej := requireRejection(t, err, common.ErrDuplicateImage)
	assert.Equal(t, "duplicate_image", rej.Code())
	assert.False(t, rej.Retryable())
}

func TestSubmitScan_RateLimitWindow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, seed := range []string{"1", "2", "3"} {
		e.scan(t, seed, "A")
	}

	_, err := e.gate.SubmitScan(ctx, ScanSubmission{Image: image("4"), SourceAddress: "A"})
	rej := requireRejection(t, err, common.ErrRateLimited)
	assert.True(t, rej.Retryable())
	assert.Equal(t, 24*time.Hour, rej.RetryAfter)

	e.scan(t, "other", "B")

	e.clock.Advance(24 * time.Hour)
	e.scan(t, "4", "A")
}

func TestSubmitScan_ClassifierUnavailable(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.gate.SubmitScan(ctx, ScanSubmission{Image: image("x"), SourceAddress: "A"})
	require.ErrorIs(t, err, common.ErrClassifierUnavailable)
	var rej *Rejection
	assert.False(t, errors.As(err, &rej))

	exists, err := e.manager.Repositories().Scans().ExistsByContentHash(context.Background(), fingerprint.Sum(image("x")))
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = e.manager.Repositories().RateCounters().Get(context.Background(), "scan:A")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSubmitReceipt_Accepted(t *testing.T) {
	e := newEnv(t)
	s := e.scan(t, "1", "A")
	r := e.receipt(t, s.SessionID, "1", "ann@example.com", 0.9)

	assert.Equal(t, models.ReceiptSubmitted, r.Status)
	assert.True(t, decimal.RequireFromString("5").Equal(r.Amount))
	assert.Equal(t, "USD", r.Currency)
	assert.Equal(t, int64(1), r.Version)
	assert.Equal(t, []string{r.ID}, e.scheduler.ids)

	scan, err := e.manager.Repositories().Scans().GetBySessionID(context.Background(), s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanCompleted, scan.Status)

	_, ok := e.evidence.Get("receipts/" + r.ContentHash)
	assert.True(t, ok)
}

func TestSubmitReceipt_TieredAmount(t *testing.T) {
	e := newEnv(t)
	e.gate.policy.RebateTiers = map[string]decimal.Decimal{"stub": decimal.RequireFromString("12.50")}

	s := e.scan(t, "1", "A")
	r := e.receipt(t, s.SessionID, "1", "ann@example.com", 0.9)
	assert.Equal(t, "12.50", r.Amount.StringFixed(2))

	s2 := e.scan(t, "2", "A")
	r2, err := e.gate.SubmitReceipt(context.Background(), ReceiptSubmission{
		SessionID: s2.SessionID, Image: image("explicit"), Recipient: "bob@example.com",
		Amount: decimal.RequireFromString("3"),
	})
	require.NoError(t, err)
	assert.Equal(t, "3.00", r2.Amount.StringFixed(2))
}

func TestSubmitReceipt_SessionRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.gate.SubmitReceipt(ctx, ReceiptSubmission{SessionID: "scan-1-nope", Image: image("r0"), Recipient: "a@x.io"})
	requireRejection(t, err, common.ErrSessionNotFound)

	s := e.scan(t, "1", "A")
	e.receipt(t, s.SessionID, "1", "a@x.io", 0.9)
	_, err = e.gate.SubmitReceipt(ctx, ReceiptSubmission{SessionID: s.SessionID, Image: image("r2"), Recipient: "b@x.io"})
	rej := requireRejection(t, err, common.ErrSessionConsumed)
	assert.Equal(t, "session_already_consumed", rej.Code())

	s2 := e.scan(t, "2", "A")
	e.clock.Advance(24 * time.Hour)
	_, err = e.gate.SubmitReceipt(ctx, ReceiptSubmission{SessionID: s2.SessionID, Image: image("r3"), Recipient: "c@x.io"})
	requireRejection(t, err, common.ErrSessionExpired)
}

func TestSubmitReceipt_CheckOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.scan(t, "1", "A")
	e.receipt(t, s.SessionID, "1", "a@x.io", 0.9)

	// duplicate wins over a missing session
	_, err := e.gate.SubmitReceipt(ctx, ReceiptSubmission{SessionID: "missing", Image: image("receipt-1"), Recipient: "a@x.io"})
	requireRejection(t, err, common.ErrDuplicateImage)

	// format wins over everything
	_, err = e.gate.SubmitReceipt(ctx, ReceiptSubmission{SessionID: "missing", Image: []byte("%PDF-1.7 not an image at all"), Recipient: "a@x.io"})
	requireRejection(t, err, common.ErrInvalidFormat)
}

func TestSubmitReceipt_DuplicateIndependentOfScans(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	shared := image("shared")

	s, err := e.gate.SubmitScan(ctx, ScanSubmission{Image: shared, SourceAddress: "A"})
	require.NoError(t, err)
	_, err = e.gate.SubmitReceipt(ctx, ReceiptSubmission{SessionID: s.SessionID, Image: shared, Recipient: "a@x.io"})
	require.NoError(t, err)

	s2 := e.scan(t, "2", "A")
	_, err = e.gate.SubmitReceipt(ctx, ReceiptSubmission{SessionID: s2.SessionID, Image: shared, Recipient: "b@x.io"})
	requireRejection(t, err, common.ErrDuplicateImage)

	scan, err := e.manager.Repositories().Scans().GetBySessionID(ctx, s2.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanAwaitingReceipt, scan.Status)
}

func TestSubmitReceipt_ConcurrentSameSession(t *testing.T) {
	e := newEnv(t)
	s := e.scan(t, "1", "A")

	const n = 12
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.gate.SubmitReceipt(context.Background(), ReceiptSubmission{
				SessionID: s.SessionID,
				Image:     image("concurrent-" + string(rune('a'+i))),
				Recipient: "a@x.io",
			})
		}(i)
	}
	wg.Wait()

	ok, consumed := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, common.ErrSessionConsumed):
			consumed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, consumed)

	all, err := e.manager.Repositories().Receipts().ListByStatus(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSubmitReceipt_PaidRecipientTurnedAway(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	r := e.approvedReceipt(t, "1", "ann@example.com")
	out, err := e.payout.Disburse(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, out.Kind)

	s := e.scan(t, "2", "B")
	_, err = e.gate.SubmitReceipt(ctx, ReceiptSubmission{SessionID: s.SessionID, Image: image("r2"), Recipient: "ann@example.com"})
	rej := requireRejection(t, err, common.ErrRateLimited)
	assert.Greater(t, rej.RetryAfter, time.Duration(0))
}
