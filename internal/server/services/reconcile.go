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

// ErrUnknownDeliveryEvent is returned for event types outside the rail's
// documented set.
var ErrUnknownDeliveryEvent = errors.New("unknown delivery event type")

// ReconcileService applies asynchronous delivery events to receipts. Every
// event is logged once in the dedupe log; a replay is a no-op.
type ReconcileService struct {
	manager repomanager.RepositoryManager
	limiter *RateLimiter
	policy  models.RatePolicy
	logger  logging.Logger
	now     func() time.Time
}

func NewReconcileService(m repomanager.RepositoryManager, limiter *RateLimiter, policy models.RatePolicy, l logging.Logger) *ReconcileService {
	return &ReconcileService{
		manager: m,
		limiter: limiter,
		policy:  policy,
		logger:  l.With("module", "reconcile"),
		now:     time.Now,
	}
}

// OnDeliveryEvent records ev and applies it if its receipt is known. It
// reports whether the receipt changed.
func (s *ReconcileService) OnDeliveryEvent(ctx context.Context, ev models.DeliveryEvent) (bool, error) {
	if ev.Type.Effect() == models.EffectUnknown {
		return false, fmt.Errorf("%w: %q", ErrUnknownDeliveryEvent, ev.Type)
	}

	var changed bool
	err := s.manager.RunInTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		now := s.now()
		fresh, err := r.PayoutEvents().Record(ctx, &models.PayoutEvent{Reference: ev.Reference, Type: ev.Type, ReceivedAt: now})
		if err != nil {
			return err
		}
		if !fresh {
			s.logger.Debug(ctx, "duplicate delivery event ignored", "reference", ev.Reference, "event_type", ev.Type)
			return nil
		}

		rec, err := r.Receipts().GetByPayoutReference(ctx, ev.Reference)
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Info(ctx, "delivery event for unknown reference kept for replay", "reference", ev.Reference, "event_type", ev.Type)
			return nil
		}
		if err != nil {
			return err
		}

		changed, err = s.apply(ctx, r, rec, ev.Type)
		if err != nil {
			return err
		}
		return r.PayoutEvents().MarkApplied(ctx, ev.Reference, ev.Type, now)
	})
	return changed, err
}

// Replay applies events that arrived before the reference was recorded.
func (s *ReconcileService) Replay(ctx context.Context, reference string) error {
	return s.manager.RunInTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		pending, err := r.PayoutEvents().ListUnapplied(ctx, reference)
		if err != nil || len(pending) == 0 {
			return err
		}

		for _, ev := range pending {
			rec, err := r.Receipts().GetByPayoutReference(ctx, reference)
			if errors.Is(err, common.ErrorNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if _, err := s.apply(ctx, r, rec, ev.Type); err != nil {
				return err
			}
			if err := r.PayoutEvents().MarkApplied(ctx, reference, ev.Type, s.now()); err != nil {
				return err
			}
		}
		return nil
	})
}

// apply checks the receipt's current shape before mutating it, so applying
// the same effect twice changes nothing.
func (s *ReconcileService) apply(ctx context.Context, r repomanager.Repositories, rec *models.ReceiptRecord, typ models.DeliveryEventType) (bool, error) {
	now := s.now()
	switch typ.Effect() {
	case models.EffectSettle:
		if rec.SettledAt != nil || rec.Status != models.ReceiptPaid {
			return false, nil
		}
		if err := rec.Settle(now); err != nil {
			return false, err
		}
		if err := r.Receipts().CompareAndSwap(ctx, rec); err != nil {
			return false, err
		}
		s.logger.Info(ctx, "payout settled", "receipt_id", rec.ID, "reference", rec.PayoutReference)
		return true, nil

	case models.EffectRevert:
		if rec.SettledAt != nil {
			s.logger.Warn(ctx, "delivery failure after settlement ignored", "receipt_id", rec.ID, "reference", rec.PayoutReference, "event_type", typ)
			return false, nil
		}
		ref := rec.PayoutReference
		if err := rec.Revert("payout "+string(typ), now); err != nil {
			return false, err
		}
		if err := r.Receipts().CompareAndSwap(ctx, rec); err != nil {
			return false, err
		}
		if err := s.limiter.Release(ctx, r.RateCounters(), s.policy, rec.RecipientIdentity); err != nil {
			return false, err
		}
		s.logger.Warn(ctx, "payout reverted", "receipt_id", rec.ID, "reference", ref, "event_type", typ)
		return true, nil
	}

	s.logger.Info(ctx, "delivery status", "receipt_id", rec.ID, "reference", rec.PayoutReference, "event_type", typ)
	return false, nil
}
