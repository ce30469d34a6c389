// Package scans implements storage for competitor-product scan records.
package scans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) Create(ctx context.Context, s *models.ScanRecord) error {
	query :=
		`INSERT INTO scans (session_id, content_hash, source_address, detected_label, confidence,
		   bbox_x, bbox_y, bbox_width, bbox_height, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 `

	_, err := r.db.ExecContext(ctx, query,
		s.SessionID, s.ContentHash, s.SourceAddress, s.DetectedLabel, s.Confidence,
		s.BoundingBox.X, s.BoundingBox.Y, s.BoundingBox.Width, s.BoundingBox.Height,
		string(s.Status), s.CreatedAt)

	if err != nil {
		if constraint, ok := dbx.UniqueViolation(err); ok {
			if constraint == "scans_content_hash_active" {
				return common.ErrDuplicateImage
			}
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.ScanRecord, error) {
	query :=
		`SELECT session_id, content_hash, source_address, detected_label, confidence,
		   bbox_x, bbox_y, bbox_width, bbox_height, status, created_at
		 FROM scans
		 WHERE session_id = $1
		 `

	s := &models.ScanRecord{}
	var status string
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&s.SessionID, &s.ContentHash, &s.SourceAddress, &s.DetectedLabel, &s.Confidence,
		&s.BoundingBox.X, &s.BoundingBox.Y, &s.BoundingBox.Width, &s.BoundingBox.Height,
		&status, &s.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if s.Status, err = models.ParseScanStatus(status); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return s, nil
}

func (r *PostgresRepository) ExistsByContentHash(ctx context.Context, hash string) (bool, error) {
	query :=
		`SELECT EXISTS (SELECT 1 FROM scans WHERE content_hash = $1 AND status <> 'rejected')`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, hash).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, sessionID string, from, to models.ScanStatus) error {
	query :=
		`UPDATE scans SET status = $3
		 WHERE session_id = $1 AND status = $2
		 `

	res, err := r.db.ExecContext(ctx, query, sessionID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrVersionConflict
	}

	return nil
}
