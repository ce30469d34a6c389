package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"github.com/dmitrijs2005/scanrebate/internal/server/classifier"
	"github.com/dmitrijs2005/scanrebate/internal/server/config"
	"github.com/dmitrijs2005/scanrebate/internal/server/evidence"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/dmitrijs2005/scanrebate/internal/server/payoutrail"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/repomanager"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRail struct {
	mu      sync.Mutex
	payouts []payoutrail.Payout
}

func (f *fakeRail) Submit(_ context.Context, p payoutrail.Payout) (*payoutrail.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payouts = append(f.payouts, p)
	return &payoutrail.Result{Reference: "PAY-" + p.IdempotencyKey[:8]}, nil
}

func (f *fakeRail) Payouts() []payoutrail.Payout {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]payoutrail.Payout(nil), f.payouts...)
}

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.StorageBackend = config.StorageMemory
	c.HTTPAddr = "127.0.0.1:0"
	c.GRPCAddr = "127.0.0.1:0"
	c.ReviewWorkers = 2
	c.Policy.MinImageBytes = 16
	c.Policy.AllowedFormats = []string{"image/png"}
	c.Policy.RebateTiers = map[string]decimal.Decimal{"acme-cola": decimal.RequireFromString("7.50")}
	return c
}

func newTestApp(t *testing.T, cls classifier.Classifier) (*App, *repomanager.InMemoryRepositoryManager, *fakeRail) {
	t.Helper()
	m := repomanager.NewInMemoryRepositoryManager()
	rail := &fakeRail{}
	app := newApp(testConfig(), logging.Nop{}, m, evidence.NewMemoryStore(), cls, rail)
	return app, m, rail
}

func upload(t *testing.T, h http.Handler, path string, fields map[string]string, img []byte) *httptest.ResponseRecorder {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("image", "upload.png")
	require.NoError(t, err)
	_, err = fw.Write(img)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func png(seed string) []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), []byte("IHDR-"+seed+"-padding-bytes")...)
}

func TestScanToPayout(t *testing.T) {
	cls := &classifier.Stub{Result: models.Classification{Label: "acme-cola", Confidence: 0.95}}
	app, m, rail := newTestApp(t, cls)
	app.queue.Start()
	t.Cleanup(func() { app.queue.Shutdown(context.Background()) })

	h := app.http.Handler()

	rr := upload(t, h, "/v1/scans", nil, png("scan"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var scan struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &scan))

	rr = upload(t, h, "/v1/receipts", map[string]string{"session_id": scan.SessionID, "recipient": "shopper@example.com"}, png("receipt"))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var receipt struct {
		ReceiptID string `json:"receipt_id"`
		Amount    string `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &receipt))
	assert.Equal(t, "7.50", receipt.Amount)

	require.Eventually(t, func() bool {
		rec, err := m.Repositories().Receipts().GetByID(context.Background(), receipt.ReceiptID)
		return err == nil && rec.Status == models.ReceiptPaid
	}, 2*time.Second, 10*time.Millisecond)

	payouts := rail.Payouts()
	require.Len(t, payouts, 1)
	assert.Equal(t, "shopper@example.com", payouts[0].Recipient)
	assert.True(t, decimal.RequireFromString("7.50").Equal(payouts[0].Amount))
}

func TestScanToReview_LowConfidenceWaitsForOperator(t *testing.T) {
	cls := &classifier.Stub{Result: models.Classification{Label: "acme-cola", Confidence: 0.40}}
	app, m, rail := newTestApp(t, cls)
	app.queue.Start()

	h := app.http.Handler()
	rr := upload(t, h, "/v1/scans", nil, png("scan"))
	require.Equal(t, http.StatusCreated, rr.Code)
	var scan struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &scan))

	rr = upload(t, h, "/v1/receipts", map[string]string{"session_id": scan.SessionID, "recipient": "shopper@example.com"}, png("receipt"))
	require.Equal(t, http.StatusAccepted, rr.Code)

	require.NoError(t, app.queue.Shutdown(context.Background()))

	list, err := m.Repositories().Receipts().ListByStatus(context.Background(), models.ReceiptSubmitted, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].ReviewReason, "below threshold")
	assert.Empty(t, rail.Payouts())
}

func TestRequeuePending(t *testing.T) {
	app, m, rail := newTestApp(t, classifier.NewStub())
	ctx := context.Background()
	now := time.Now()

	for i, reason := range []string{"", "confidence 0.40 below threshold"} {
		id := []string{"fresh", "deferred"}[i]
		require.NoError(t, m.Repositories().Receipts().Create(ctx, &models.ReceiptRecord{
			ID:                id,
			SessionID:         "scan-" + id,
			ContentHash:       "hash-" + id,
			RecipientIdentity: id + "@example.com",
			Amount:            decimal.RequireFromString("5.00"),
			Currency:          "USD",
			Confidence:        0.99,
			Status:            models.ReceiptSubmitted,
			ReviewReason:      reason,
			PayoutState:       models.PayoutIdle,
			Version:           1,
			CreatedAt:         now,
			UpdatedAt:         now,
		}))
	}

	app.queue.Start()
	app.requeuePending(ctx)
	require.NoError(t, app.queue.Shutdown(ctx))

	fresh, err := m.Repositories().Receipts().GetByID(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptPaid, fresh.Status)

	deferred, err := m.Repositories().Receipts().GetByID(ctx, "deferred")
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptSubmitted, deferred.Status)
	assert.Len(t, rail.Payouts(), 1)
}

func TestExpireStalePayouts(t *testing.T) {
	app, m, rail := newTestApp(t, classifier.NewStub())
	ctx := context.Background()
	claimedAt := time.Now().Add(-time.Hour)

	for _, id := range []string{"stale", "idle"} {
		state := models.PayoutIdle
		if id == "stale" {
			state = models.PayoutInFlight
		}
		require.NoError(t, m.Repositories().Receipts().Create(ctx, &models.ReceiptRecord{
			ID:                id,
			SessionID:         "scan-" + id,
			ContentHash:       "hash-" + id,
			RecipientIdentity: id + "@example.com",
			Amount:            decimal.RequireFromString("5.00"),
			Currency:          "USD",
			Status:            models.ReceiptApproved,
			PayoutState:       state,
			Version:           1,
			CreatedAt:         claimedAt,
			UpdatedAt:         claimedAt,
		}))
	}

	app.expireStalePayouts(ctx)

	stale, err := m.Repositories().Receipts().GetByID(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutUnknown, stale.PayoutState)

	idle, err := m.Repositories().Receipts().GetByID(ctx, "idle")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutIdle, idle.PayoutState)
	assert.Empty(t, rail.Payouts())
}

func TestOpenStore(t *testing.T) {
	c := testConfig()

	m, err := openStore(context.Background(), c)
	require.NoError(t, err)
	require.IsType(t, &repomanager.InMemoryRepositoryManager{}, m)

	c.StorageBackend = "sqlite"
	_, err = openStore(context.Background(), c)
	require.Error(t, err)
}

func TestOpenEvidence_Memory(t *testing.T) {
	ev, err := openEvidence(context.Background(), testConfig())
	require.NoError(t, err)
	require.IsType(t, &evidence.MemoryStore{}, ev)
}

func TestNewClassifier(t *testing.T) {
	c := testConfig()
	require.IsType(t, &classifier.Stub{}, newClassifier(c, logging.Nop{}))

	c.ClassifierMode = config.ClassifierHTTP
	require.IsType(t, &classifier.HTTPClassifier{}, newClassifier(c, logging.Nop{}))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	app, _, _ := newTestApp(t, classifier.NewStub())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop after context cancel")
	}
}
