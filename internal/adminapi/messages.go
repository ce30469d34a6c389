package adminapi

import "time"

// Field names follow admin.proto. 64-bit integers are quoted, as in the
// proto JSON mapping.

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
}

type ListReceiptsRequest struct {
	Status string `json:"status"`
	Limit  int    `json:"limit,omitempty"`
}

type ListReceiptsResponse struct {
	Receipts []Receipt `json:"receipts,omitempty"`
}

type GetReceiptRequest struct {
	ID string `json:"id"`
}

type GetReceiptResponse struct {
	Receipt         Receipt `json:"receipt"`
	Scan            *Scan   `json:"scan,omitempty"`
	ReceiptImageURL string  `json:"receipt_image_url,omitempty"`
	ScanImageURL    string  `json:"scan_image_url,omitempty"`
}

type ApproveReceiptRequest struct {
	ID string `json:"id"`
}

type RejectReceiptRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// ReviewResponse carries the receipt after a review decision. Payout is set
// when the decision started a disbursement.
type ReviewResponse struct {
	Receipt Receipt        `json:"receipt"`
	Payout  *PayoutOutcome `json:"payout,omitempty"`
}

type ResolvePayoutRequest struct {
	ID string `json:"id"`
}

type PayoutResponse struct {
	Payout PayoutOutcome `json:"payout"`
}

type RejectScanRequest struct {
	SessionID string `json:"session_id"`
}

type RejectScanResponse struct{}

// Receipt is the operator view of a receipt record. Amount is a decimal
// string.
type Receipt struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	Recipient       string     `json:"recipient"`
	Amount          string     `json:"amount"`
	Currency        string     `json:"currency"`
	Label           string     `json:"label"`
	Confidence      float64    `json:"confidence"`
	Status          string     `json:"status"`
	ReviewReason    string     `json:"review_reason,omitempty"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	PayoutState     string     `json:"payout_state"`
	PayoutAttempt   int        `json:"payout_attempt"`
	PayoutReference string     `json:"payout_reference,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
	Version         int64      `json:"version,string"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Scan struct {
	SessionID     string    `json:"session_id"`
	SourceAddress string    `json:"source_address"`
	Label         string    `json:"label"`
	Confidence    float64   `json:"confidence"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

type PayoutOutcome struct {
	Kind              string `json:"kind"`
	Reference         string `json:"reference,omitempty"`
	Reason            string `json:"reason,omitempty"`
	Retryable         bool   `json:"retryable,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty,string"`
}
