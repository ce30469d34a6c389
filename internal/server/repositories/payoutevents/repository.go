package payoutevents

import (
	"context"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/server/models"
)

// Repository is the delivery-event dedupe log, unique on (reference, type).
type Repository interface {
	// Record inserts ev and reports false if the same event was logged
	// before.
	Record(ctx context.Context, ev *models.PayoutEvent) (bool, error)
	ListUnapplied(ctx context.Context, reference string) ([]*models.PayoutEvent, error)
	MarkApplied(ctx context.Context, reference string, typ models.DeliveryEventType, at time.Time) error
}
