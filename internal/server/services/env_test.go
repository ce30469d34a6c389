package services

import (
	"context"
	"fmt"
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
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeRail answers "R<n>" for the n-th call unless respond says otherwise.
type fakeRail struct {
	mu      sync.Mutex
	calls   []payoutrail.Payout
	respond func(n int, p payoutrail.Payout) (*payoutrail.Result, error)
	entered chan struct{}
	release chan struct{}
}

func (f *fakeRail) Submit(ctx context.Context, p payoutrail.Payout) (*payoutrail.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	n := len(f.calls)
	respond := f.respond
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if respond == nil {
		return &payoutrail.Result{Reference: fmt.Sprintf("R%d", n)}, nil
	}
	return respond(n, p)
}

func (f *fakeRail) Calls() []payoutrail.Payout {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]payoutrail.Payout(nil), f.calls...)
}

type recordingScheduler struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingScheduler) Enqueue(_ context.Context, id string) error {
	s.mu.Lock()
	s.ids = append(s.ids, id)
	s.mu.Unlock()
	return nil
}

type env struct {
	clock     *testClock
	policy    config.Policy
	manager   *repomanager.InMemoryRepositoryManager
	evidence  *evidence.MemoryStore
	cls       *classifier.Stub
	rail      *fakeRail
	scheduler *recordingScheduler

	limiter   *RateLimiter
	sessions  *SessionRegistry
	gate      *SubmissionGate
	reconcile *ReconcileService
	payout    *PayoutService
	review    *ReviewService
	operator  *OperatorService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.Policy.MinImageBytes = 16
	cfg.Policy.MaxImageBytes = 512
	cfg.Policy.AllowedFormats = []string{"image/png", "image/jpeg"}

	e := &env{
		clock:     &testClock{t: t0},
		policy:    cfg.Policy,
		manager:   repomanager.NewInMemoryRepositoryManager(),
		evidence:  evidence.NewMemoryStore(),
		cls:       classifier.NewStub(),
		rail:      &fakeRail{},
		scheduler: &recordingScheduler{},
	}
	l := logging.Nop{}

	e.limiter = NewRateLimiter()
	e.limiter.now = e.clock.Now

	e.sessions = NewSessionRegistry(cfg.Policy.SessionPrefix, cfg.Policy.SessionValidity)
	e.sessions.now = e.clock.Now

	e.gate = NewSubmissionGate(e.manager, e.cls, e.evidence, e.limiter, e.sessions, e.scheduler, cfg.Policy, l)
	e.gate.now = e.clock.Now

	e.reconcile = NewReconcileService(e.manager, e.limiter, cfg.Policy.PayoutPolicy(), l)
	e.reconcile.now = e.clock.Now

	e.payout = NewPayoutService(e.manager, e.rail, e.limiter, cfg.Policy.PayoutPolicy(), e.reconcile, l)
	e.payout.now = e.clock.Now

	e.review = NewReviewService(e.manager, e.payout, cfg.Policy.ConfidenceThreshold, l)
	e.review.now = e.clock.Now

	e.operator = NewOperatorService(e.manager, e.evidence, cfg, l)
	return e
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// image returns a distinct PNG-looking payload per seed.
func image(seed string) []byte {
	b := append([]byte{}, pngMagic...)
	return append(b, []byte("IHDR-"+seed+"-padding-bytes")...)
}

func (e *env) scan(t *testing.T, seed, addr string) *models.ScanRecord {
	t.Helper()
	s, err := e.gate.SubmitScan(context.Background(), ScanSubmission{Image: image("scan-" + seed), SourceAddress: addr})
	require.NoError(t, err)
	return s
}

func (e *env) receipt(t *testing.T, sessionID, seed, recipient string, confidence float64) *models.ReceiptRecord {
	t.Helper()
	r, err := e.gate.SubmitReceipt(context.Background(), ReceiptSubmission{
		SessionID:      sessionID,
		Image:          image("receipt-" + seed),
		Recipient:      recipient,
		Classification: &models.Classification{Label: "receipt", Confidence: confidence},
	})
	require.NoError(t, err)
	return r
}

func (e *env) get(t *testing.T, id string) *models.ReceiptRecord {
	t.Helper()
	r, err := e.manager.Repositories().Receipts().GetByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

// approved runs scan -> receipt -> manual approval without paying.
func (e *env) approvedReceipt(t *testing.T, seed, recipient string) *models.ReceiptRecord {
	t.Helper()
	s := e.scan(t, seed, "10.0.0."+seed)
	r := e.receipt(t, s.SessionID, seed, recipient, 0.5)
	_, err := mutateReceipt(context.Background(), e.manager, r.ID, func(_ context.Context, _ repomanager.Repositories, rec *models.ReceiptRecord) error {
		return rec.Approve("op", e.clock.Now())
	})
	require.NoError(t, err)
	return e.get(t, r.ID)
}
