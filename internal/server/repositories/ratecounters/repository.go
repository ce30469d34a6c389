package ratecounters

import (
	"context"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/server/models"
)

// Repository stores fixed-window counters.
type Repository interface {
	// CheckAndIncrement atomically resets an expired or absent window to a
	// count of one, or increments a live window whose count is below ceiling.
	// It reports false with the current counter when the ceiling is reached.
	CheckAndIncrement(ctx context.Context, key string, ceiling int, window time.Duration, now time.Time) (*models.RateCounter, bool, error)
	Get(ctx context.Context, key string) (*models.RateCounter, error)
	// Release gives back one unit of a live window. It is a no-op when the
	// window has expired or the count is already zero.
	Release(ctx context.Context, key string, window time.Duration, now time.Time) error
}
