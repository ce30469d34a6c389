// Package payoutevents implements the payout delivery event log.
package payoutevents

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/dbx"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Record(ctx context.Context, ev *models.PayoutEvent) (bool, error) {
	query :=
		`INSERT INTO payout_events (reference, event_type, received_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (reference, event_type) DO NOTHING
		 `

	res, err := r.db.ExecContext(ctx, query, ev.Reference, string(ev.Type), ev.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return n == 1, nil
}

func (r *PostgresRepository) ListUnapplied(ctx context.Context, reference string) ([]*models.PayoutEvent, error) {
	query :=
		`SELECT reference, event_type, received_at FROM payout_events
		 WHERE reference = $1 AND applied_at IS NULL
		 ORDER BY received_at
		 `

	rows, err := r.db.QueryContext(ctx, query, reference)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var events []*models.PayoutEvent
	for rows.Next() {
		ev := &models.PayoutEvent{}
		var typ string
		if err := rows.Scan(&ev.Reference, &typ, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ev.Type = models.DeliveryEventType(typ)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return events, nil
}

func (r *PostgresRepository) MarkApplied(ctx context.Context, reference string, typ models.DeliveryEventType, at time.Time) error {
	query :=
		`UPDATE payout_events SET applied_at = $3
		 WHERE reference = $1 AND event_type = $2 AND applied_at IS NULL
		 `

	if _, err := r.db.ExecContext(ctx, query, reference, string(typ), at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
