// Package models defines server-side data models persisted in the record
// store, together with the receipt review state machine.
package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
)

// ScanStatus is the lifecycle of a competitor-product scan.
type ScanStatus string

const (
	ScanAwaitingReceipt ScanStatus = "awaiting_receipt"
	ScanCompleted       ScanStatus = "completed"
	ScanRejected        ScanStatus = "rejected"
)

// ParseScanStatus rejects any value outside the closed set.
func ParseScanStatus(s string) (ScanStatus, error) {
	switch st := ScanStatus(s); st {
	case ScanAwaitingReceipt, ScanCompleted, ScanRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown scan status %q", s)
}

// BoundingBox is the classifier's detection rectangle in image pixels.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Classification is the opaque output of the brand-detection collaborator.
// Confidence is only ever compared against the auto-approval threshold.
type Classification struct {
	Label       string      `json:"label"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// ScanRecord is a proof-of-competitor-scan event. SessionID is the single-use
// token a later receipt must present.
type ScanRecord struct {
	SessionID     string
	ContentHash   string
	SourceAddress string
	DetectedLabel string
	Confidence    float64
	BoundingBox   BoundingBox
	Status        ScanStatus
	CreatedAt     time.Time
}

// Expired reports whether the scan's session can no longer accept a receipt.
func (s *ScanRecord) Expired(now time.Time, validity time.Duration) bool {
	return !now.Before(s.CreatedAt.Add(validity))
}

// EvidenceKey is the object-storage key of the scan image.
func (s *ScanRecord) EvidenceKey() string {
	return common.ScanEvidencePrefix + "/" + s.ContentHash
}
