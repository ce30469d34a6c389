package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
)

type RateCounterRepository struct {
	v view
}

func (r *RateCounterRepository) CheckAndIncrement(_ context.Context, key string, ceiling int, window time.Duration, now time.Time) (*models.RateCounter, bool, error) {
	var out models.RateCounter
	var allowed bool
	err := r.v(func(st *state) error {
		c, ok := st.counters[key]
		switch {
		case !ok || !c.WindowStart.After(now.Add(-window)):
			c = models.RateCounter{BucketKey: key, WindowStart: now, Count: 1}
			allowed = true
		case c.Count < ceiling:
			c.Count++
			allowed = true
		}
		if allowed {
			st.counters[key] = c
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &out, allowed, nil
}

func (r *RateCounterRepository) Get(_ context.Context, key string) (*models.RateCounter, error) {
	var out *models.RateCounter
	err := r.v(func(st *state) error {
		c, ok := st.counters[key]
		if !ok {
			return common.ErrorNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (r *RateCounterRepository) Release(_ context.Context, key string, window time.Duration, now time.Time) error {
	return r.v(func(st *state) error {
		c, ok := st.counters[key]
		if !ok || !c.WindowStart.After(now.Add(-window)) || c.Count == 0 {
			return nil
		}
		c.Count--
		st.counters[key] = c
		return nil
	})
}
