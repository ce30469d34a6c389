package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/server/models"
)

type PayoutEventRepository struct {
	v view
}

func (r *PayoutEventRepository) Record(_ context.Context, ev *models.PayoutEvent) (bool, error) {
	var fresh bool
	err := r.v(func(st *state) error {
		for _, e := range st.events {
			if e.Reference == ev.Reference && e.Type == ev.Type {
				return nil
			}
		}
		st.events = append(st.events, *ev)
		fresh = true
		return nil
	})
	return fresh, err
}

func (r *PayoutEventRepository) ListUnapplied(_ context.Context, reference string) ([]*models.PayoutEvent, error) {
	var out []*models.PayoutEvent
	err := r.v(func(st *state) error {
		for _, e := range st.events {
			if e.Reference == reference && e.AppliedAt == nil {
				out = append(out, &e)
			}
		}
		return nil
	})
	return out, err
}

func (r *PayoutEventRepository) MarkApplied(_ context.Context, reference string, typ models.DeliveryEventType, at time.Time) error {
	return r.v(func(st *state) error {
		for i := range st.events {
			e := &st.events[i]
			if e.Reference == reference && e.Type == typ && e.AppliedAt == nil {
				applied := at
				e.AppliedAt = &applied
			}
		}
		return nil
	})
}
