package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/dmitrijs2005/scanrebate/internal/server/payoutrail"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/repomanager"
	"github.com/sethvargo/go-retry"
)

// OutcomeKind classifies the result of one disbursement call.
type OutcomeKind string

const (
	OutcomePaid       OutcomeKind = "paid"
	OutcomeFailed     OutcomeKind = "failed"
	OutcomeUnknown    OutcomeKind = "unknown"
	OutcomeInProgress OutcomeKind = "in_progress"
)

// PayoutOutcome is what Disburse reports to the caller.
type PayoutOutcome struct {
	Kind       OutcomeKind
	Reference  string
	Reason     string
	Retryable  bool
	RetryAfter time.Duration
	Receipt    *models.ReceiptRecord
}

const payoutRateLimitedReason = "payout rate limited"

// settleTimeout bounds the state write that follows a rail call; it runs
// even when the caller's context is already done.
const settleTimeout = 10 * time.Second

// staleScanLimit caps how many approved receipts one ExpireStale pass reads.
const staleScanLimit = 500

// PayoutService disburses approved receipts through the payout rail.
type PayoutService struct {
	manager   repomanager.RepositoryManager
	rail      payoutrail.Rail
	limiter   *RateLimiter
	policy    models.RatePolicy
	reconcile *ReconcileService
	logger    logging.Logger
	now       func() time.Time

	// inFlightGrace is how long a claim may stay in flight before its
	// result is treated as lost.
	inFlightGrace time.Duration
}

type PayoutOption func(*PayoutService)

// WithRailTimeout sets the rail call bound. A claim older than the call
// bound plus the result write bound can no longer be recorded.
func WithRailTimeout(d time.Duration) PayoutOption {
	return func(s *PayoutService) {
		if d > 0 {
			s.inFlightGrace = d + settleTimeout
		}
	}
}

func NewPayoutService(m repomanager.RepositoryManager, rail payoutrail.Rail, limiter *RateLimiter,
	policy models.RatePolicy, reconcile *ReconcileService, l logging.Logger, opts ...PayoutOption) *PayoutService {
	s := &PayoutService{
		manager:       m,
		rail:          rail,
		limiter:       limiter,
		policy:        policy,
		reconcile:     reconcile,
		logger:        l.With("module", "payout"),
		now:           time.Now,
		inFlightGrace: 30*time.Second + settleTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// mutateReceipt reloads the receipt in a transaction, applies fn and writes
// it back with a version check. Lost races are retried a few times.
func mutateReceipt(ctx context.Context, m repomanager.RepositoryManager, id string,
	fn func(ctx context.Context, r repomanager.Repositories, rec *models.ReceiptRecord) error) (*models.ReceiptRecord, error) {
	var out *models.ReceiptRecord
	b := retry.WithMaxRetries(3, retry.NewConstant(20*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := m.RunInTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
			rec, err := r.Receipts().GetByID(ctx, id)
			if err != nil {
				return err
			}
			if err := fn(ctx, r, rec); err != nil {
				return err
			}
			if err := r.Receipts().CompareAndSwap(ctx, rec); err != nil {
				return err
			}
			out = rec
			return nil
		})
		if errors.Is(err, common.ErrVersionConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	return out, err
}

// Disburse pays out an approved receipt at most once. The claim, the payout
// rate-limit check and the move to in_flight share one transaction, so a
// concurrent call observes in_progress and never reaches the rail.
func (s *PayoutService) Disburse(ctx context.Context, receiptID string) (*PayoutOutcome, error) {
	claimed, outcome, err := s.claim(ctx, receiptID)
	if err != nil || outcome != nil {
		return outcome, err
	}

	p := payoutrail.Payout{
		IdempotencyKey: claimed.IdempotencyKey(),
		Recipient:      claimed.RecipientIdentity,
		Amount:         claimed.Amount,
		Currency:       claimed.Currency,
		Note:           "rebate " + claimed.ID,
	}
	s.logger.Info(ctx, "submitting payout", "receipt_id", claimed.ID, "idempotency_key", p.IdempotencyKey, "attempt", claimed.PayoutAttempt)

	res, railErr := s.rail.Submit(ctx, p)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	return s.record(sctx, claimed.ID, res, railErr)
}

func (s *PayoutService) claim(ctx context.Context, id string) (*models.ReceiptRecord, *PayoutOutcome, error) {
	var claimed *models.ReceiptRecord
	var outcome *PayoutOutcome

	err := s.manager.RunInTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		rec, err := r.Receipts().GetByID(ctx, id)
		if err != nil {
			return err
		}

		switch {
		case rec.Status == models.ReceiptPaid:
			outcome = &PayoutOutcome{Kind: OutcomeInProgress, Reference: rec.PayoutReference, Reason: "already paid", Receipt: rec}
			return nil
		case rec.Status != models.ReceiptApproved:
			return fmt.Errorf("%w: receipt is %s", common.ErrInvalidTransition, rec.Status)
		case rec.PayoutState == models.PayoutInFlight:
			outcome = &PayoutOutcome{Kind: OutcomeInProgress, Reason: "payout in flight", Receipt: rec}
			return nil
		case rec.PayoutState == models.PayoutUnknown:
			outcome = &PayoutOutcome{Kind: OutcomeUnknown, Reason: "awaiting operator resolution", Receipt: rec}
			return nil
		case rec.PayoutState == models.PayoutHalted:
			outcome = &PayoutOutcome{Kind: OutcomeFailed, Reason: "payout halted", Receipt: rec}
			return nil
		}

		d, err := s.limiter.CheckAndIncrement(ctx, r.RateCounters(), s.policy, rec.RecipientIdentity)
		if err != nil {
			return err
		}
		if !d.Allowed {
			if !strings.HasSuffix(rec.ReviewReason, payoutRateLimitedReason) {
				if err := rec.NotePayoutDeferred(payoutRateLimitedReason, s.now()); err != nil {
					return err
				}
				if err := r.Receipts().CompareAndSwap(ctx, rec); err != nil {
					return err
				}
			}
			outcome = &PayoutOutcome{Kind: OutcomeFailed, Reason: payoutRateLimitedReason, Retryable: true, RetryAfter: d.RetryAfter, Receipt: rec}
			return nil
		}

		if err := rec.ClaimPayout(s.now()); err != nil {
			return err
		}
		if err := r.Receipts().CompareAndSwap(ctx, rec); err != nil {
			return err
		}
		claimed = rec
		return nil
	})

	if errors.Is(err, common.ErrVersionConflict) {
		return nil, &PayoutOutcome{Kind: OutcomeInProgress, Reason: "concurrent update"}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return claimed, outcome, nil
}

// record writes the rail's answer onto the claimed receipt.
func (s *PayoutService) record(ctx context.Context, id string, res *payoutrail.Result, railErr error) (*PayoutOutcome, error) {
	now := s.now()
	outcome := &PayoutOutcome{}
	var rejected *payoutrail.RejectedError

	var apply func(ctx context.Context, r repomanager.Repositories, rec *models.ReceiptRecord) error
	switch {
	case railErr == nil:
		outcome.Kind, outcome.Reference = OutcomePaid, res.Reference
		apply = func(_ context.Context, _ repomanager.Repositories, rec *models.ReceiptRecord) error {
			return rec.MarkPaid(res.Reference, now)
		}
	case errors.As(railErr, &rejected):
		outcome.Kind, outcome.Reason, outcome.Retryable = OutcomeFailed, rejected.Error(), rejected.Retryable
		apply = func(ctx context.Context, r repomanager.Repositories, rec *models.ReceiptRecord) error {
			if err := rec.FailPayout(rejected.Error(), rejected.Retryable, now); err != nil {
				return err
			}
			return s.limiter.Release(ctx, r.RateCounters(), s.policy, rec.RecipientIdentity)
		}
	default:
		outcome.Kind, outcome.Reason = OutcomeUnknown, railErr.Error()
		apply = func(_ context.Context, _ repomanager.Repositories, rec *models.ReceiptRecord) error {
			return rec.MarkPayoutUnknown("payout outcome unknown", now)
		}
	}

	rec, err := mutateReceipt(ctx, s.manager, id, apply)
	if err != nil {
		s.logger.Error(ctx, "payout result not recorded", "receipt_id", id, "kind", outcome.Kind, "reference", outcome.Reference, "error", err)
		return nil, fmt.Errorf("record payout result: %w", err)
	}
	outcome.Receipt = rec

	switch outcome.Kind {
	case OutcomePaid:
		s.logger.Info(ctx, "payout accepted", "receipt_id", id, "reference", outcome.Reference)
		if s.reconcile != nil {
			if err := s.reconcile.Replay(ctx, outcome.Reference); err != nil {
				s.logger.Warn(ctx, "replaying early delivery events failed", "reference", outcome.Reference, "error", err)
			}
		}
	case OutcomeFailed:
		s.logger.Warn(ctx, "payout rejected", "receipt_id", id, "reason", outcome.Reason, "retryable", outcome.Retryable)
	default:
		s.logger.Error(ctx, "payout outcome unknown, operator action required", "receipt_id", id, "error", railErr)
	}
	return outcome, nil
}

// ExpireStale parks approved receipts whose claim outlived the grace period,
// which happens when the process stopped between the rail call and the
// result write. They wait for ResolveUnknown like a timed-out call.
func (s *PayoutService) ExpireStale(ctx context.Context) (int, error) {
	approved, err := s.manager.Repositories().Receipts().ListByStatus(ctx, models.ReceiptApproved, staleScanLimit)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.inFlightGrace)
	n := 0
	for _, rec := range approved {
		if rec.PayoutState != models.PayoutInFlight || rec.UpdatedAt.After(cutoff) {
			continue
		}
		_, err := mutateReceipt(ctx, s.manager, rec.ID, func(_ context.Context, _ repomanager.Repositories, rec *models.ReceiptRecord) error {
			return rec.ExpireInFlight(cutoff, s.now())
		})
		if errors.Is(err, common.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return n, err
		}
		s.logger.Error(ctx, "payout interrupted, operator action required", "receipt_id", rec.ID)
		n++
	}
	return n, nil
}

// ResolveUnknown is the operator's answer to an unknown outcome: the same
// idempotency key is submitted again so the rail can deduplicate it. A
// claim stuck in flight past the grace period counts as unknown.
func (s *PayoutService) ResolveUnknown(ctx context.Context, receiptID, operator string) (*PayoutOutcome, error) {
	_, err := mutateReceipt(ctx, s.manager, receiptID, func(ctx context.Context, r repomanager.Repositories, rec *models.ReceiptRecord) error {
		now := s.now()
		if rec.PayoutState == models.PayoutInFlight {
			if err := rec.ExpireInFlight(now.Add(-s.inFlightGrace), now); err != nil {
				return err
			}
		}
		if err := rec.ResumeUnknown(operator, now); err != nil {
			return err
		}
		return s.limiter.Release(ctx, r.RateCounters(), s.policy, rec.RecipientIdentity)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "unknown payout resumed", "receipt_id", receiptID, "operator", operator)
	return s.Disburse(ctx, receiptID)
}
