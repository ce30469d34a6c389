// Package ratecounters implements storage for fixed-window rate counters.
package ratecounters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/dbx"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CheckAndIncrement is a single conditional upsert. The WHERE clause of the
// DO UPDATE branch leaves a full live window untouched, in which case no row
// is returned.
func (r *PostgresRepository) CheckAndIncrement(ctx context.Context, key string, ceiling int, window time.Duration, now time.Time) (*models.RateCounter, bool, error) {
	query :=
		`INSERT INTO rate_counters (bucket_key, window_start, count)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (bucket_key) DO UPDATE SET
		   window_start = CASE WHEN rate_counters.window_start <= $3 THEN EXCLUDED.window_start ELSE rate_counters.window_start END,
		   count = CASE WHEN rate_counters.window_start <= $3 THEN 1 ELSE rate_counters.count + 1 END
		 WHERE rate_counters.window_start <= $3 OR rate_counters.count < $4
		 RETURNING window_start, count
		 `

	c := &models.RateCounter{BucketKey: key}
	err := r.db.QueryRowContext(ctx, query, key, now, now.Add(-window), ceiling).Scan(&c.WindowStart, &c.Count)
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("db error: %w", err)
	}

	c, err = r.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return c, false, nil
}

func (r *PostgresRepository) Get(ctx context.Context, key string) (*models.RateCounter, error) {
	query :=
		`SELECT bucket_key, window_start, count FROM rate_counters
		 WHERE bucket_key = $1
		 `

	c := &models.RateCounter{}
	err := r.db.QueryRowContext(ctx, query, key).Scan(&c.BucketKey, &c.WindowStart, &c.Count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return c, nil
}

func (r *PostgresRepository) Release(ctx context.Context, key string, window time.Duration, now time.Time) error {
	query :=
		`UPDATE rate_counters SET count = count - 1
		 WHERE bucket_key = $1 AND window_start > $2 AND count > 0
		 `

	if _, err := r.db.ExecContext(ctx, query, key, now.Add(-window)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
