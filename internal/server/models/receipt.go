package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReceiptStatus is the client-visible review lifecycle of a receipt.
type ReceiptStatus string

const (
	ReceiptSubmitted ReceiptStatus = "submitted"
	ReceiptApproved  ReceiptStatus = "approved"
	ReceiptRejected  ReceiptStatus = "rejected"
	ReceiptPaid      ReceiptStatus = "paid"
)

// ParseReceiptStatus rejects any value outside the closed set.
func ParseReceiptStatus(s string) (ReceiptStatus, error) {
	switch st := ReceiptStatus(s); st {
	case ReceiptSubmitted, ReceiptApproved, ReceiptRejected, ReceiptPaid:
		return st, nil
	}
	return "", fmt.Errorf("unknown receipt status %q", s)
}

// PayoutState is the disbursement sub-state of an approved receipt.
type PayoutState string

const (
	// PayoutIdle: eligible for a disbursement attempt.
	PayoutIdle PayoutState = "idle"
	// PayoutInFlight: claimed by one orchestrator; the rail call is running.
	PayoutInFlight PayoutState = "in_flight"
	// PayoutUnknown: the rail call timed out; money may or may not have moved.
	PayoutUnknown PayoutState = "unknown"
	// PayoutHalted: the rail rejected the payout permanently.
	PayoutHalted PayoutState = "halted"
)

// ParsePayoutState rejects any value outside the closed set.
func ParsePayoutState(s string) (PayoutState, error) {
	switch st := PayoutState(s); st {
	case PayoutIdle, PayoutInFlight, PayoutUnknown, PayoutHalted:
		return st, nil
	}
	return "", fmt.Errorf("unknown payout state %q", s)
}

// transitions is the only source of legal status moves.
var transitions = map[ReceiptStatus][]ReceiptStatus{
	ReceiptSubmitted: {ReceiptApproved, ReceiptRejected},
	ReceiptApproved:  {ReceiptApproved, ReceiptPaid, ReceiptRejected},
	ReceiptPaid:      {ReceiptApproved},
}

// CanTransition reports whether from → to is a legal status move.
func CanTransition(from, to ReceiptStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// idempotencyNamespace scopes the SHA-1 UUIDs used as payout idempotency keys.
var idempotencyNamespace = uuid.MustParse("6f1f4b5e-8d1c-4a8e-9a43-2f5d1c7e0b11")

// ReceiptRecord is a proof-of-purchase submission and its settlement state.
type ReceiptRecord struct {
	ID                string
	SessionID         string
	ContentHash       string
	RecipientIdentity string
	Amount            decimal.Decimal
	Currency          string
	DetectedLabel     string
	Confidence        float64

	Status       ReceiptStatus
	ReviewReason string
	ReviewedBy   string

	PayoutState     PayoutState
	PayoutAttempt   int
	PayoutReference string
	PaidAt          *time.Time
	SettledAt       *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdempotencyKey is stable for one payout attempt: a retry after a timeout
// reuses it, a retry after a confirmed failure gets a new one.
func (r *ReceiptRecord) IdempotencyKey() string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(fmt.Sprintf("%s/%d", r.ID, r.PayoutAttempt))).String()
}

// EvidenceKey is the object-storage key of the receipt image.
func (r *ReceiptRecord) EvidenceKey() string {
	return common.ReceiptEvidencePrefix + "/" + r.ContentHash
}

func (r *ReceiptRecord) move(to ReceiptStatus, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}

func (r *ReceiptRecord) appendReason(reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return
	}
	if r.ReviewReason == "" {
		r.ReviewReason = reason
		return
	}
	r.ReviewReason += "; " + reason
}

func (r *ReceiptRecord) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s receipt in %s/%s", common.ErrInvalidTransition, action, r.Status, r.PayoutState)
}

// DeferReview keeps a submitted receipt for a human and records why the
// automated rule did not approve it.
func (r *ReceiptRecord) DeferReview(reason string, now time.Time) error {
	if r.Status != ReceiptSubmitted {
		return r.invalid("defer")
	}
	r.ReviewReason = reason
	r.UpdatedAt = now
	return nil
}

// Approve moves submitted → approved. The receipt becomes eligible for
// payout; eligibility itself is checked by the orchestrator.
func (r *ReceiptRecord) Approve(by string, now time.Time) error {
	if r.Status != ReceiptSubmitted {
		return r.invalid("approve")
	}
	if err := r.move(ReceiptApproved, now); err != nil {
		return err
	}
	r.ReviewedBy = by
	r.PayoutState = PayoutIdle
	return nil
}

// Reject is reachable only before any money could have moved.
func (r *ReceiptRecord) Reject(by, reason string, now time.Time) error {
	switch {
	case r.Status != ReceiptSubmitted && r.Status != ReceiptApproved:
		return r.invalid("reject")
	case r.PayoutReference != "":
		return r.invalid("reject")
	case r.PayoutState == PayoutInFlight || r.PayoutState == PayoutUnknown:
		return r.invalid("reject")
	}
	if err := r.move(ReceiptRejected, now); err != nil {
		return err
	}
	r.ReviewedBy = by
	r.appendReason(reason)
	return nil
}

// ClaimPayout marks an approved, idle receipt as having a disbursement in
// flight. Only one concurrent claim can win the version CAS.
func (r *ReceiptRecord) ClaimPayout(now time.Time) error {
	if r.Status != ReceiptApproved || r.PayoutState != PayoutIdle || r.PayoutReference != "" {
		return r.invalid("claim payout for")
	}
	r.PayoutState = PayoutInFlight
	r.UpdatedAt = now
	return nil
}

// NotePayoutDeferred records why an idle receipt was not disbursed.
func (r *ReceiptRecord) NotePayoutDeferred(reason string, now time.Time) error {
	if r.Status != ReceiptApproved || r.PayoutState != PayoutIdle {
		return r.invalid("defer payout for")
	}
	r.appendReason(reason)
	r.UpdatedAt = now
	return nil
}

// MarkPaid records the rail's accepted reference.
func (r *ReceiptRecord) MarkPaid(reference string, now time.Time) error {
	if r.PayoutState != PayoutInFlight || reference == "" || r.PayoutReference != "" {
		return r.invalid("mark paid")
	}
	if err := r.move(ReceiptPaid, now); err != nil {
		return err
	}
	r.PayoutReference = reference
	r.PaidAt = &now
	r.PayoutState = PayoutIdle
	return nil
}

// FailPayout closes an in-flight attempt that the rail clearly rejected.
// A retryable failure makes the receipt eligible again under a new
// idempotency key; a permanent one halts it for an operator.
func (r *ReceiptRecord) FailPayout(reason string, retryable bool, now time.Time) error {
	if r.PayoutState != PayoutInFlight {
		return r.invalid("fail payout for")
	}
	if err := r.move(ReceiptApproved, now); err != nil {
		return err
	}
	r.appendReason(reason)
	if retryable {
		r.PayoutState = PayoutIdle
		r.PayoutAttempt++
		return nil
	}
	r.PayoutState = PayoutHalted
	return nil
}

// MarkPayoutUnknown parks an in-flight attempt whose outcome is unknown.
// The idempotency key is kept so a later resubmission cannot double-pay.
func (r *ReceiptRecord) MarkPayoutUnknown(reason string, now time.Time) error {
	if r.PayoutState != PayoutInFlight {
		return r.invalid("park payout for")
	}
	r.PayoutState = PayoutUnknown
	r.appendReason(reason)
	r.UpdatedAt = now
	return nil
}

// ExpireInFlight parks an attempt whose claim is older than cutoff. Its
// result was never recorded, so the outcome is unknown and the idempotency
// key is kept.
func (r *ReceiptRecord) ExpireInFlight(cutoff, now time.Time) error {
	if r.Status != ReceiptApproved || r.PayoutState != PayoutInFlight || r.UpdatedAt.After(cutoff) {
		return r.invalid("expire payout for")
	}
	r.PayoutState = PayoutUnknown
	r.appendReason("payout interrupted, outcome unknown")
	r.UpdatedAt = now
	return nil
}

// ResumeUnknown lets an operator resubmit an attempt with unknown outcome.
func (r *ReceiptRecord) ResumeUnknown(by string, now time.Time) error {
	if r.Status != ReceiptApproved || r.PayoutState != PayoutUnknown {
		return r.invalid("resume payout for")
	}
	r.PayoutState = PayoutIdle
	r.ReviewedBy = by
	r.UpdatedAt = now
	return nil
}

// Revert applies a failed delivery: the reference is cleared and the receipt
// goes back to approved for a retry under a new idempotency key.
func (r *ReceiptRecord) Revert(reason string, now time.Time) error {
	if r.PayoutReference == "" || r.SettledAt != nil {
		return r.invalid("revert")
	}
	if err := r.move(ReceiptApproved, now); err != nil {
		return err
	}
	r.PayoutReference = ""
	r.PaidAt = nil
	r.PayoutState = PayoutIdle
	r.PayoutAttempt++
	r.appendReason(reason)
	return nil
}

// Settle records the rail's delivery confirmation. After this the payout
// reference is final.
func (r *ReceiptRecord) Settle(now time.Time) error {
	if r.Status != ReceiptPaid || r.SettledAt != nil {
		return r.invalid("settle")
	}
	r.SettledAt = &now
	r.UpdatedAt = now
	return nil
}
