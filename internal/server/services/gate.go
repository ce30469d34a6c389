package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"github.com/dmitrijs2005/scanrebate/internal/server/classifier"
	"github.com/dmitrijs2005/scanrebate/internal/server/config"
	"github.com/dmitrijs2005/scanrebate/internal/server/evidence"
	"github.com/dmitrijs2005/scanrebate/internal/server/fingerprint"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/repomanager"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Rejection is a synchronous refusal of a submission. Nothing is persisted
// when one is returned. Reason is one of the common input or policy errors.
type Rejection struct {
	Reason     error
	RetryAfter time.Duration
}

func reject(reason error) *Rejection {
	return &Rejection{Reason: reason}
}

func (r *Rejection) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("%s: retry after %s", r.Code(), r.RetryAfter.Round(time.Second))
	}
	return r.Code()
}

func (r *Rejection) Unwrap() error { return r.Reason }

// Code is the stable reason code shown to callers.
func (r *Rejection) Code() string { return r.Reason.Error() }

// Retryable reports whether the same submission can succeed later.
func (r *Rejection) Retryable() bool { return errors.Is(r.Reason, common.ErrRateLimited) }

// ReviewScheduler accepts receipts for automated review.
type ReviewScheduler interface {
	Enqueue(ctx context.Context, receiptID string) error
}

// ScanSubmission is an uploaded competitor scan. A nil Classification makes
// the gate call the classifier.
type ScanSubmission struct {
	Image          []byte
	SourceAddress  string
	Classification *models.Classification
}

// ReceiptSubmission is an uploaded receipt. A zero Amount is resolved from
// the rebate tiers by the linked scan's label.
type ReceiptSubmission struct {
	SessionID      string
	Image          []byte
	Recipient      string
	Amount         decimal.Decimal
	Classification *models.Classification
}

// SubmissionGate is the fraud-prevention front door. Checks short-circuit
// in a fixed order: format, size, duplicate, session, rate limit.
type SubmissionGate struct {
	manager    repomanager.RepositoryManager
	classifier classifier.Classifier
	evidence   evidence.Store
	limiter    *RateLimiter
	sessions   *SessionRegistry
	scheduler  ReviewScheduler
	policy     config.Policy
	logger     logging.Logger
	now        func() time.Time
}

func NewSubmissionGate(m repomanager.RepositoryManager, c classifier.Classifier, ev evidence.Store,
	limiter *RateLimiter, sessions *SessionRegistry, scheduler ReviewScheduler, policy config.Policy, l logging.Logger) *SubmissionGate {
	return &SubmissionGate{
		manager:    m,
		classifier: c,
		evidence:   ev,
		limiter:    limiter,
		sessions:   sessions,
		scheduler:  scheduler,
		policy:     policy,
		logger:     l.With("module", "gate"),
		now:        time.Now,
	}
}

// checkImage validates size and sniffed format and returns the content type.
func (g *SubmissionGate) checkImage(b []byte) (string, error) {
	mt := mimetype.Detect(b)
	allowed := false
	for _, f := range g.policy.AllowedFormats {
		if mt.Is(f) {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", reject(common.ErrInvalidFormat)
	}

	n := int64(len(b))
	if n < g.policy.MinImageBytes || n > g.policy.MaxImageBytes {
		return "", reject(common.ErrSizeOutOfBounds)
	}
	return mt.String(), nil
}

func (g *SubmissionGate) classify(ctx context.Context, image []byte, given *models.Classification) (models.Classification, error) {
	if given != nil {
		return *given, nil
	}
	c, err := g.classifier.Classify(ctx, image)
	if err != nil {
		if errors.Is(err, common.ErrClassifierUnavailable) {
			return c, err
		}
		return c, fmt.Errorf("%w: %v", common.ErrClassifierUnavailable, err)
	}
	return c, nil
}

func rateLimited(d models.RateDecision) *Rejection {
	return &Rejection{Reason: common.ErrRateLimited, RetryAfter: d.RetryAfter}
}

// asRejection turns store-level conflicts into the policy rejection the
// caller would have seen had it lost the race earlier.
func asRejection(err error) error {
	var rej *Rejection
	switch {
	case err == nil, errors.As(err, &rej):
		return err
	case errors.Is(err, common.ErrDuplicateImage):
		return reject(common.ErrDuplicateImage)
	case errors.Is(err, common.ErrSessionConsumed), errors.Is(err, common.ErrVersionConflict):
		return reject(common.ErrSessionConsumed)
	case errors.Is(err, common.ErrSessionNotFound), errors.Is(err, common.ErrSessionExpired):
		return reject(err)
	}
	return err
}

func (g *SubmissionGate) storeEvidence(ctx context.Context, key string, image []byte, contentType string) {
	if g.evidence == nil {
		return
	}
	if err := g.evidence.Put(context.WithoutCancel(ctx), key, image, contentType); err != nil {
		g.logger.Warn(ctx, "evidence upload failed", "key", key, "error", err)
	}
}

// SubmitScan accepts a competitor scan and issues its session.
func (g *SubmissionGate) SubmitScan(ctx context.Context, sub ScanSubmission) (*models.ScanRecord, error) {
	contentType, err := g.checkImage(sub.Image)
	if err != nil {
		return nil, err
	}
	hash := fingerprint.Sum(sub.Image)

	repos := g.manager.Repositories()
	dup, err := repos.Scans().ExistsByContentHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, reject(common.ErrDuplicateImage)
	}

	policy := g.policy.ScanPolicy()
	d, err := g.limiter.Peek(ctx, repos.RateCounters(), policy, sub.SourceAddress)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return nil, rateLimited(d)
	}

	cls, err := g.classify(ctx, sub.Image, sub.Classification)
	if err != nil {
		return nil, err
	}

	sessionID, err := g.sessions.CreateSession()
	if err != nil {
		return nil, err
	}
	scan := &models.ScanRecord{
		SessionID:     sessionID,
		ContentHash:   hash,
		SourceAddress: sub.SourceAddress,
		DetectedLabel: cls.Label,
		Confidence:    cls.Confidence,
		BoundingBox:   cls.BoundingBox,
		Status:        models.ScanAwaitingReceipt,
		CreatedAt:     g.now(),
	}

	err = g.manager.RunInTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		d, err := g.limiter.CheckAndIncrement(ctx, r.RateCounters(), policy, sub.SourceAddress)
		if err != nil {
			return err
		}
		if !d.Allowed {
			return rateLimited(d)
		}
		return r.Scans().Create(ctx, scan)
	})
	if err = asRejection(err); err != nil {
		return nil, err
	}

	g.logger.Info(ctx, "scan accepted", "session_id", scan.SessionID, "label", scan.DetectedLabel)
	g.storeEvidence(ctx, scan.EvidenceKey(), sub.Image, contentType)
	return scan, nil
}

// SubmitReceipt accepts a receipt against a live session. The receipt is
// created submitted and the scan completed in one transaction.
func (g *SubmissionGate) SubmitReceipt(ctx context.Context, sub ReceiptSubmission) (*models.ReceiptRecord, error) {
	contentType, err := g.checkImage(sub.Image)
	if err != nil {
		return nil, err
	}
	hash := fingerprint.Sum(sub.Image)

	repos := g.manager.Repositories()
	dup, err := repos.Receipts().ExistsByContentHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, reject(common.ErrDuplicateImage)
	}

	scan, err := g.sessions.ValidateAndConsume(ctx, repos, sub.SessionID)
	if err != nil {
		return nil, asRejection(err)
	}

	policy := g.policy.PayoutPolicy()
	d, err := g.limiter.Peek(ctx, repos.RateCounters(), policy, sub.Recipient)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return nil, rateLimited(d)
	}

	cls, err := g.classify(ctx, sub.Image, sub.Classification)
	if err != nil {
		return nil, err
	}

	amount := sub.Amount
	if amount.IsZero() {
		amount = g.policy.RebateFor(scan.DetectedLabel)
	}

	now := g.now()
	rec := &models.ReceiptRecord{
		ID:                uuid.NewString(),
		SessionID:         sub.SessionID,
		ContentHash:       hash,
		RecipientIdentity: sub.Recipient,
		Amount:            amount,
		Currency:          g.policy.Currency,
		DetectedLabel:     cls.Label,
		Confidence:        cls.Confidence,
		Status:            models.ReceiptSubmitted,
		PayoutState:       models.PayoutIdle,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = g.manager.RunInTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		if _, err := g.sessions.ValidateAndConsume(ctx, r, sub.SessionID); err != nil {
			return err
		}
		d, err := g.limiter.Peek(ctx, r.RateCounters(), policy, sub.Recipient)
		if err != nil {
			return err
		}
		if !d.Allowed {
			return rateLimited(d)
		}
		if err := r.Receipts().Create(ctx, rec); err != nil {
			return err
		}
		return r.Scans().UpdateStatus(ctx, sub.SessionID, models.ScanAwaitingReceipt, models.ScanCompleted)
	})
	if err = asRejection(err); err != nil {
		return nil, err
	}

	g.logger.Info(ctx, "receipt accepted", "receipt_id", rec.ID, "session_id", rec.SessionID, "amount", rec.Amount.StringFixed(2))
	g.storeEvidence(ctx, rec.EvidenceKey(), sub.Image, contentType)

	if g.scheduler != nil {
		if err := g.scheduler.Enqueue(ctx, rec.ID); err != nil {
			g.logger.Warn(ctx, "auto review not scheduled", "receipt_id", rec.ID, "error", err)
		}
	}
	return rec, nil
}

// Session reports the state of a scan session without consuming it.
func (g *SubmissionGate) Session(ctx context.Context, sessionID string) (*SessionInfo, error) {
	return g.sessions.Describe(ctx, g.manager.Repositories(), sessionID)
}
