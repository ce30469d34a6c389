// Package receipts implements storage for rebate receipt records.
package receipts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/dbx"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
)

const columns = `id, session_id, content_hash, recipient_identity, amount, currency,
   detected_label, confidence, status, review_reason, reviewed_by,
   payout_state, payout_attempt, payout_reference, paid_at, settled_at,
   version, created_at, updated_at`

// Constraint names from the receipts migration.
const (
	sessionConstraint     = "receipts_session_id_key"
	contentHashConstraint = "receipts_content_hash_active"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*models.ReceiptRecord, error) {
	r := &models.ReceiptRecord{}
	var status, payoutState string
	var reference sql.NullString

	err := row.Scan(&r.ID, &r.SessionID, &r.ContentHash, &r.RecipientIdentity, &r.Amount, &r.Currency,
		&r.DetectedLabel, &r.Confidence, &status, &r.ReviewReason, &r.ReviewedBy,
		&payoutState, &r.PayoutAttempt, &reference, &r.PaidAt, &r.SettledAt,
		&r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if r.Status, err = models.ParseReceiptStatus(status); err != nil {
		return nil, err
	}
	if r.PayoutState, err = models.ParsePayoutState(payoutState); err != nil {
		return nil, err
	}
	r.PayoutReference = reference.String

	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PostgresRepository) Create(ctx context.Context, rec *models.ReceiptRecord) error {
	query :=
		`INSERT INTO receipts (` + columns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 `

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.ContentHash, rec.RecipientIdentity, rec.Amount, rec.Currency,
		rec.DetectedLabel, rec.Confidence, string(rec.Status), rec.ReviewReason, rec.ReviewedBy,
		string(rec.PayoutState), rec.PayoutAttempt, nullString(rec.PayoutReference), rec.PaidAt, rec.SettledAt,
		rec.Version, rec.CreatedAt, rec.UpdatedAt)

	if err != nil {
		if constraint, ok := dbx.UniqueViolation(err); ok {
			switch constraint {
			case sessionConstraint:
				return common.ErrSessionConsumed
			case contentHashConstraint:
				return common.ErrDuplicateImage
			}
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, arg any) (*models.ReceiptRecord, error) {
	query := `SELECT ` + columns + ` FROM receipts WHERE ` + where

	rec, err := scanReceipt(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.ReceiptRecord, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *PostgresRepository) GetByPayoutReference(ctx context.Context, reference string) (*models.ReceiptRecord, error) {
	return r.getOne(ctx, "payout_reference = $1", reference)
}

func (r *PostgresRepository) ExistsByContentHash(ctx context.Context, hash string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM receipts WHERE content_hash = $1 AND status <> 'rejected')`, hash)
}

func (r *PostgresRepository) ExistsBySessionID(ctx context.Context, sessionID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM receipts WHERE session_id = $1)`, sessionID)
}

func (r *PostgresRepository) exists(ctx context.Context, query string, arg any) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) ListByStatus(ctx context.Context, status models.ReceiptStatus, limit int) ([]*models.ReceiptRecord, error) {
	query :=
		`SELECT ` + columns + `
		 FROM receipts
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at, id
		 LIMIT $2
		 `

	rows, err := r.db.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.ReceiptRecord
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) CompareAndSwap(ctx context.Context, rec *models.ReceiptRecord) error {
	query :=
		`UPDATE receipts
		 SET status = $3, review_reason = $4, reviewed_by = $5, payout_state = $6, payout_attempt = $7,
		   payout_reference = $8, paid_at = $9, settled_at = $10, updated_at = $11, version = version + 1
		 WHERE id = $1 AND version = $2
		 RETURNING version
		 `

	var version int64
	err := r.db.QueryRowContext(ctx, query,
		rec.ID, rec.Version, string(rec.Status), rec.ReviewReason, rec.ReviewedBy, string(rec.PayoutState),
		rec.PayoutAttempt, nullString(rec.PayoutReference), rec.PaidAt, rec.SettledAt, rec.UpdatedAt).Scan(&version)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrVersionConflict
		}
		if _, ok := dbx.UniqueViolation(err); ok {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}

	rec.Version = version
	return nil
}
