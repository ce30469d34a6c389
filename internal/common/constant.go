// Package common contains shared constants and sentinel errors used across
// the rebate server and the operator CLI.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// operator access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// Bucket prefixes for the two independent rate-limit policies.
const (
	ScanPolicyName   = "scan"
	PayoutPolicyName = "payout"
)

// Evidence object key prefixes.
const (
	ScanEvidencePrefix    = "scans"
	ReceiptEvidencePrefix = "receipts"
)
