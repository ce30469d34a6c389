// Package common defines shared constants and sentinel errors used across
// the server, its repositories and the operator CLI. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrAlreadyExists   = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Input rejections: nothing is persisted.
	ErrInvalidFormat   = errors.New("invalid_format")
	ErrSizeOutOfBounds = errors.New("size_out_of_bounds")

	// Policy rejections: nothing is persisted.
	ErrDuplicateImage  = errors.New("duplicate_image")
	ErrRateLimited     = errors.New("rate_limited")
	ErrSessionNotFound = errors.New("session_not_found")
	ErrSessionExpired  = errors.New("session_expired")
	ErrSessionConsumed = errors.New("session_already_consumed")

	// Review state machine errors.
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrPayoutInProgress  = errors.New("payout already in progress")

	// External dependency errors.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrPayoutRailUnavailable = errors.New("payout rail unavailable")
	ErrInvalidSignature      = errors.New("invalid signature")
)
