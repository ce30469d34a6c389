package receipts

import (
	"context"

	"github.com/dmitrijs2005/scanrebate/internal/server/models"
)

// Repository persists receipt records. Implementations enforce one receipt
// per session and content-hash uniqueness across non-rejected receipts, and
// apply every update as a compare-and-swap on the record version.
type Repository interface {
	Create(ctx context.Context, receipt *models.ReceiptRecord) error
	GetByID(ctx context.Context, id string) (*models.ReceiptRecord, error)
	GetByPayoutReference(ctx context.Context, reference string) (*models.ReceiptRecord, error)
	ExistsByContentHash(ctx context.Context, hash string) (bool, error)
	ExistsBySessionID(ctx context.Context, sessionID string) (bool, error)
	// ListByStatus returns up to limit receipts oldest first. An empty
	// status lists every receipt.
	ListByStatus(ctx context.Context, status models.ReceiptStatus, limit int) ([]*models.ReceiptRecord, error)
	// CompareAndSwap writes the mutable fields of receipt if the stored
	// version still equals receipt.Version, then bumps receipt.Version.
	CompareAndSwap(ctx context.Context, receipt *models.ReceiptRecord) error
}
