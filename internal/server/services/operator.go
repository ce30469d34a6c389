package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"github.com/dmitrijs2005/scanrebate/internal/server/auth"
	"github.com/dmitrijs2005/scanrebate/internal/server/config"
	"github.com/dmitrijs2005/scanrebate/internal/server/evidence"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/repomanager"
)

// ReceiptView is a receipt with links to its evidence images.
type ReceiptView struct {
	Receipt         *models.ReceiptRecord
	Scan            *models.ScanRecord
	ReceiptImageURL string
	ScanImageURL    string
}

// OperatorService backs the admin interface: operator login and the
// read side of the review queue.
type OperatorService struct {
	manager       repomanager.RepositoryManager
	evidence      evidence.Store
	operators     map[string]string
	jwtSecret     []byte
	tokenValidity time.Duration
	logger        logging.Logger
}

func NewOperatorService(m repomanager.RepositoryManager, ev evidence.Store, cfg *config.Config, l logging.Logger) *OperatorService {
	return &OperatorService{
		manager:       m,
		evidence:      ev,
		operators:     cfg.Operators,
		jwtSecret:     []byte(cfg.SecretKey),
		tokenValidity: cfg.AccessTokenValidityDuration,
		logger:        l.With("module", "operator"),
	}
}

// Login checks the operator's bcrypt hash and returns an access token.
// Unknown operators and wrong passwords are indistinguishable.
func (s *OperatorService) Login(ctx context.Context, username string, password []byte) (string, error) {
	hash := s.operators[username]
	if !auth.CheckPassword(hash, password) {
		s.logger.Warn(ctx, "operator login failed", "operator", username)
		return "", common.ErrorUnauthorized
	}
	return auth.GenerateToken(username, s.jwtSecret, s.tokenValidity)
}

// Authenticate returns the operator named by a valid access token.
func (s *OperatorService) Authenticate(token string) (string, error) {
	return auth.GetOperatorFromToken(token, s.jwtSecret)
}

func (s *OperatorService) ListReceipts(ctx context.Context, status models.ReceiptStatus, limit int) ([]*models.ReceiptRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.manager.Repositories().Receipts().ListByStatus(ctx, status, limit)
}

// GetReceipt loads a receipt, its scan and presigned links to both images.
// Missing images leave the links empty.
func (s *OperatorService) GetReceipt(ctx context.Context, id string) (*ReceiptView, error) {
	repos := s.manager.Repositories()
	rec, err := repos.Receipts().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &ReceiptView{Receipt: rec}

	scan, err := repos.Scans().GetBySessionID(ctx, rec.SessionID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	view.Scan = scan

	if s.evidence != nil {
		view.ReceiptImageURL = s.presign(ctx, rec.EvidenceKey())
		if scan != nil {
			view.ScanImageURL = s.presign(ctx, scan.EvidenceKey())
		}
	}
	return view, nil
}

func (s *OperatorService) presign(ctx context.Context, key string) string {
	url, err := s.evidence.PresignGet(ctx, key)
	if err != nil {
		s.logger.Warn(ctx, "presign failed", "key", key, "error", err)
		return ""
	}
	return url
}

// RejectScan withdraws a scan that has not been used yet. Its content hash
// becomes free and its session can no longer take a receipt.
func (s *OperatorService) RejectScan(ctx context.Context, sessionID, operator string) error {
	if _, err := s.manager.Repositories().Scans().GetBySessionID(ctx, sessionID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrSessionNotFound
		}
		return err
	}
	err := s.manager.Repositories().Scans().UpdateStatus(ctx, sessionID, models.ScanAwaitingReceipt, models.ScanRejected)
	if errors.Is(err, common.ErrVersionConflict) {
		return common.ErrInvalidTransition
	}
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "scan rejected", "session_id", sessionID, "operator", operator)
	return nil
}
