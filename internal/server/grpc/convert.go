package grpc

import (
	"github.com/dmitrijs2005/scanrebate/internal/adminapi"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/dmitrijs2005/scanrebate/internal/server/services"
)

func toReceipt(r *models.ReceiptRecord) adminapi.Receipt {
	return adminapi.Receipt{
		ID:              r.ID,
		SessionID:       r.SessionID,
		Recipient:       r.RecipientIdentity,
		Amount:          r.Amount.StringFixed(2),
		Currency:        r.Currency,
		Label:           r.DetectedLabel,
		Confidence:      r.Confidence,
		Status:          string(r.Status),
		ReviewReason:    r.ReviewReason,
		ReviewedBy:      r.ReviewedBy,
		PayoutState:     string(r.PayoutState),
		PayoutAttempt:   r.PayoutAttempt,
		PayoutReference: r.PayoutReference,
		PaidAt:          r.PaidAt,
		SettledAt:       r.SettledAt,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toScan(s *models.ScanRecord) *adminapi.Scan {
	return &adminapi.Scan{
		SessionID:     s.SessionID,
		SourceAddress: s.SourceAddress,
		Label:         s.DetectedLabel,
		Confidence:    s.Confidence,
		Status:        string(s.Status),
		CreatedAt:     s.CreatedAt,
	}
}

func toOutcome(o *services.PayoutOutcome) adminapi.PayoutOutcome {
	return adminapi.PayoutOutcome{
		Kind:              string(o.Kind),
		Reference:         o.Reference,
		Reason:            o.Reason,
		Retryable:         o.Retryable,
		RetryAfterSeconds: int64(o.RetryAfter.Seconds()),
	}
}
