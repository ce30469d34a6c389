package memory

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
)

type ReceiptRepository struct {
	v view
}

func (r *ReceiptRepository) Create(_ context.Context, rec *models.ReceiptRecord) error {
	return r.v(func(st *state) error {
		for _, o := range st.receipts {
			if o.SessionID == rec.SessionID {
				return common.ErrSessionConsumed
			}
			if o.ContentHash == rec.ContentHash && o.Status != models.ReceiptRejected && rec.Status != models.ReceiptRejected {
				return common.ErrDuplicateImage
			}
		}
		if _, ok := st.receipts[rec.ID]; ok {
			return common.ErrAlreadyExists
		}
		st.receipts[rec.ID] = *rec
		return nil
	})
}

func (r *ReceiptRepository) find(match func(rec *models.ReceiptRecord) bool) (*models.ReceiptRecord, error) {
	var out *models.ReceiptRecord
	err := r.v(func(st *state) error {
		for _, rec := range st.receipts {
			if match(&rec) {
				out = &rec
				return nil
			}
		}
		return common.ErrorNotFound
	})
	return out, err
}

func (r *ReceiptRepository) GetByID(_ context.Context, id string) (*models.ReceiptRecord, error) {
	var out *models.ReceiptRecord
	err := r.v(func(st *state) error {
		rec, ok := st.receipts[id]
		if !ok {
			return common.ErrorNotFound
		}
		out = &rec
		return nil
	})
	return out, err
}

func (r *ReceiptRepository) GetByPayoutReference(_ context.Context, reference string) (*models.ReceiptRecord, error) {
	return r.find(func(rec *models.ReceiptRecord) bool {
		return reference != "" && rec.PayoutReference == reference
	})
}

func (r *ReceiptRepository) ExistsByContentHash(_ context.Context, hash string) (bool, error) {
	_, err := r.find(func(rec *models.ReceiptRecord) bool {
		return rec.ContentHash == hash && rec.Status != models.ReceiptRejected
	})
	return exists(err)
}

func (r *ReceiptRepository) ExistsBySessionID(_ context.Context, sessionID string) (bool, error) {
	_, err := r.find(func(rec *models.ReceiptRecord) bool { return rec.SessionID == sessionID })
	return exists(err)
}

func exists(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, common.ErrorNotFound):
		return false, nil
	}
	return false, err
}

func (r *ReceiptRepository) ListByStatus(_ context.Context, status models.ReceiptStatus, limit int) ([]*models.ReceiptRecord, error) {
	var out []*models.ReceiptRecord
	err := r.v(func(st *state) error {
		for _, rec := range st.receipts {
			if status == "" || rec.Status == status {
				out = append(out, &rec)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.ReceiptRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *ReceiptRepository) CompareAndSwap(_ context.Context, rec *models.ReceiptRecord) error {
	return r.v(func(st *state) error {
		cur, ok := st.receipts[rec.ID]
		if !ok || cur.Version != rec.Version {
			return common.ErrVersionConflict
		}
		if rec.PayoutReference != "" {
			for id, o := range st.receipts {
				if id != rec.ID && o.PayoutReference == rec.PayoutReference {
					return common.ErrAlreadyExists
				}
			}
		}
		next := *rec
		next.Version++
		st.receipts[rec.ID] = next
		rec.Version = next.Version
		return nil
	})
}
