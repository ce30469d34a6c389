package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/repomanager"
)

// Session states reported to clients.
const (
	SessionAwaitingReceipt = "awaiting_receipt"
	SessionCompleted       = "completed"
	SessionRejected        = "rejected"
	SessionExpired         = "expired"
)

// SessionInfo is the client-visible view of a session.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionRegistry issues single-use session ids and decides whether a
// session can still accept a receipt. It never flips state itself: a session
// is consumed by the unique receipt insert that references it.
type SessionRegistry struct {
	prefix   string
	validity time.Duration
	now      func() time.Time
	random   func(size int) (string, error)
}

func NewSessionRegistry(prefix string, validity time.Duration) *SessionRegistry {
	return &SessionRegistry{
		prefix:   prefix,
		validity: validity,
		now:      time.Now,
		random:   common.MakeRandHexString,
	}
}

// CreateSession returns {prefix}-{unix millis}-{16 hex chars}.
func (s *SessionRegistry) CreateSession() (string, error) {
	suffix, err := s.random(8)
	if err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	return fmt.Sprintf("%s-%d-%s", s.prefix, s.now().UnixMilli(), suffix), nil
}

// ValidateAndConsume returns the scan behind sessionID if a receipt may still
// be attached to it. Run it in the same transaction as the receipt insert.
func (s *SessionRegistry) ValidateAndConsume(ctx context.Context, r repomanager.Repositories, sessionID string) (*models.ScanRecord, error) {
	scan, err := r.Scans().GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrSessionNotFound
		}
		return nil, err
	}

	if scan.Expired(s.now(), s.validity) {
		return nil, common.ErrSessionExpired
	}
	if scan.Status != models.ScanAwaitingReceipt {
		return nil, common.ErrSessionConsumed
	}

	used, err := r.Receipts().ExistsBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, common.ErrSessionConsumed
	}
	return scan, nil
}

// Describe reports the state of a session without consuming it.
func (s *SessionRegistry) Describe(ctx context.Context, r repomanager.Repositories, sessionID string) (*SessionInfo, error) {
	scan, err := r.Scans().GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrSessionNotFound
		}
		return nil, err
	}

	info := &SessionInfo{SessionID: scan.SessionID, ExpiresAt: scan.CreatedAt.Add(s.validity)}
	switch {
	case scan.Status == models.ScanCompleted:
		info.Status = SessionCompleted
	case scan.Status == models.ScanRejected:
		info.Status = SessionRejected
	case scan.Expired(s.now(), s.validity):
		info.Status = SessionExpired
	default:
		info.Status = SessionAwaitingReceipt
	}
	return info, nil
}
