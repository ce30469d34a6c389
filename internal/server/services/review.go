package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/repomanager"
)

// AutoReviewer is the operator name recorded for rule-based approvals.
const AutoReviewer = "auto"

// ReviewResult is a receipt after a review decision, with the payout
// outcome when the decision approved it.
type ReviewResult struct {
	Receipt *models.ReceiptRecord
	Payout  *PayoutOutcome
}

// ReviewService drives receipts through approval and rejection. Every
// approval is handed straight to the payout orchestrator, which re-checks
// payout eligibility on its own.
type ReviewService struct {
	manager   repomanager.RepositoryManager
	payout    *PayoutService
	threshold float64
	logger    logging.Logger
	now       func() time.Time
}

func NewReviewService(m repomanager.RepositoryManager, payout *PayoutService, threshold float64, l logging.Logger) *ReviewService {
	return &ReviewService{
		manager:   m,
		payout:    payout,
		threshold: threshold,
		logger:    l.With("module", "review"),
		now:       time.Now,
	}
}

// AutoReview approves a submitted receipt whose confidence reaches the
// threshold and otherwise leaves it for a human with the reason recorded.
// Receipts already reviewed or already deferred are returned unchanged.
func (s *ReviewService) AutoReview(ctx context.Context, receiptID string) (*ReviewResult, error) {
	var approved bool
	rec, err := mutateReceipt(ctx, s.manager, receiptID, func(_ context.Context, _ repomanager.Repositories, rec *models.ReceiptRecord) error {
		approved = false
		if rec.Status != models.ReceiptSubmitted || rec.ReviewReason != "" {
			return errNoChange
		}
		if rec.Confidence >= s.threshold {
			approved = true
			return rec.Approve(AutoReviewer, s.now())
		}
		return rec.DeferReview(fmt.Sprintf("confidence %.2f below threshold", rec.Confidence), s.now())
	})
	if errors.Is(err, errNoChange) {
		return s.current(ctx, receiptID, nil)
	}
	if err != nil {
		return nil, err
	}

	if !approved {
		s.logger.Info(ctx, "receipt left for manual review", "receipt_id", rec.ID, "reason", rec.ReviewReason)
		return &ReviewResult{Receipt: rec}, nil
	}

	s.logger.Info(ctx, "receipt auto-approved", "receipt_id", rec.ID, "confidence", rec.Confidence)
	return s.disburse(ctx, receiptID)
}

// Approve is the manual approval. Approving an already approved receipt
// retries its payout.
func (s *ReviewService) Approve(ctx context.Context, receiptID, operator string) (*ReviewResult, error) {
	_, err := mutateReceipt(ctx, s.manager, receiptID, func(_ context.Context, _ repomanager.Repositories, rec *models.ReceiptRecord) error {
		if rec.Status == models.ReceiptApproved {
			return errNoChange
		}
		return rec.Approve(operator, s.now())
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return nil, err
	}

	s.logger.Info(ctx, "receipt approved", "receipt_id", receiptID, "operator", operator)
	return s.disburse(ctx, receiptID)
}

// Reject is the manual rejection. It is refused once money may have moved.
func (s *ReviewService) Reject(ctx context.Context, receiptID, operator, reason string) (*models.ReceiptRecord, error) {
	rec, err := mutateReceipt(ctx, s.manager, receiptID, func(_ context.Context, _ repomanager.Repositories, rec *models.ReceiptRecord) error {
		return rec.Reject(operator, reason, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "receipt rejected", "receipt_id", rec.ID, "operator", operator, "reason", reason)
	return rec, nil
}

func (s *ReviewService) disburse(ctx context.Context, receiptID string) (*ReviewResult, error) {
	outcome, err := s.payout.Disburse(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	return s.current(ctx, receiptID, outcome)
}

func (s *ReviewService) current(ctx context.Context, receiptID string, outcome *PayoutOutcome) (*ReviewResult, error) {
	rec, err := s.manager.Repositories().Receipts().GetByID(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	return &ReviewResult{Receipt: rec, Payout: outcome}, nil
}

// errNoChange aborts a mutation that has nothing to write.
var errNoChange = errors.New("no change")

// IsConflict reports whether err is a lost race or an illegal transition,
// both of which callers see as a conflict with the receipt's current state.
func IsConflict(err error) bool {
	return errors.Is(err, common.ErrVersionConflict) || errors.Is(err, common.ErrInvalidTransition)
}
