package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/ratecounters"
)

// RateLimiter applies fixed-window policies to subjects. It holds no state
// of its own; every decision is one atomic write in the counter store.
type RateLimiter struct {
	now func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{now: time.Now}
}

// CheckAndIncrement consumes one unit of p for subject if the window allows
// it. A denied decision carries the time left until the window resets.
func (l *RateLimiter) CheckAndIncrement(ctx context.Context, repo ratecounters.Repository, p models.RatePolicy, subject string) (models.RateDecision, error) {
	now := l.now()
	c, ok, err := repo.CheckAndIncrement(ctx, p.BucketKey(subject), p.Ceiling, p.Window, now)
	if err != nil {
		return models.RateDecision{}, err
	}
	d := models.RateDecision{Allowed: ok, Count: c.Count}
	if !ok {
		d.RetryAfter = c.RetryAfter(now, p.Window)
	}
	return d, nil
}

// Peek reports what CheckAndIncrement would decide without consuming
// anything.
func (l *RateLimiter) Peek(ctx context.Context, repo ratecounters.Repository, p models.RatePolicy, subject string) (models.RateDecision, error) {
	now := l.now()
	c, err := repo.Get(ctx, p.BucketKey(subject))
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return models.RateDecision{Allowed: true}, nil
	case err != nil:
		return models.RateDecision{}, err
	}

	if c.RetryAfter(now, p.Window) == 0 || c.Count < p.Ceiling {
		return models.RateDecision{Allowed: true, Count: c.Count}, nil
	}
	return models.RateDecision{Count: c.Count, RetryAfter: c.RetryAfter(now, p.Window)}, nil
}

// Release returns one unit to subject's live window.
func (l *RateLimiter) Release(ctx context.Context, repo ratecounters.Repository, p models.RatePolicy, subject string) error {
	return repo.Release(ctx, p.BucketKey(subject), p.Window, l.now())
}
