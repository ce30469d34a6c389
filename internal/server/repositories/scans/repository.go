package scans

import (
	"context"

	"github.com/dmitrijs2005/scanrebate/internal/server/models"
)

// Repository persists scan records. Implementations must enforce content-hash
// uniqueness across non-rejected scans.
type Repository interface {
	Create(ctx context.Context, scan *models.ScanRecord) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.ScanRecord, error)
	ExistsByContentHash(ctx context.Context, hash string) (bool, error)
	// UpdateStatus moves a scan from one status to another and returns
	// common.ErrVersionConflict if the scan is no longer in from.
	UpdateStatus(ctx context.Context, sessionID string, from, to models.ScanStatus) error
}
