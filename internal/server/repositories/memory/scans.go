package memory

import (
	"context"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
)

type ScanRepository struct {
	v view
}

func (r *ScanRepository) Create(_ context.Context, scan *models.ScanRecord) error {
	return r.v(func(st *state) error {
		if _, ok := st.scans[scan.SessionID]; ok {
			return common.ErrAlreadyExists
		}
		if scan.Status != models.ScanRejected && scanHashTaken(st, scan.ContentHash) {
			return common.ErrDuplicateImage
		}
		st.scans[scan.SessionID] = *scan
		return nil
	})
}

func scanHashTaken(st *state, hash string) bool {
	for _, s := range st.scans {
		if s.ContentHash == hash && s.Status != models.ScanRejected {
			return true
		}
	}
	return false
}

func (r *ScanRepository) GetBySessionID(_ context.Context, sessionID string) (*models.ScanRecord, error) {
	var out *models.ScanRecord
	err := r.v(func(st *state) error {
		s, ok := st.scans[sessionID]
		if !ok {
			return common.ErrorNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (r *ScanRepository) ExistsByContentHash(_ context.Context, hash string) (bool, error) {
	var exists bool
	err := r.v(func(st *state) error {
		exists = scanHashTaken(st, hash)
		return nil
	})
	return exists, err
}

func (r *ScanRepository) UpdateStatus(_ context.Context, sessionID string, from, to models.ScanStatus) error {
	return r.v(func(st *state) error {
		s, ok := st.scans[sessionID]
		if !ok || s.Status != from {
			return common.ErrVersionConflict
		}
		s.Status = to
		st.scans[sessionID] = s
		return nil
	})
}
