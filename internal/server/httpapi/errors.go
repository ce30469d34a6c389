package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/server/services"
)

const (
	codeBadRequest       = "bad_request"
	codeInvalidSignature = "invalid_signature"
	codeUnknownEvent     = "unknown_event_type"
	codeInternal         = "internal_error"
	codeClassifierDown   = "classifier_unavailable"
)

type errorResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message,omitempty"`
	Retryable         bool   `json:"retryable,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// statusFor maps a submission error onto an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrInvalidFormat):
		return http.StatusUnsupportedMediaType, common.ErrInvalidFormat.Error()
	case errors.Is(err, common.ErrSizeOutOfBounds):
		return http.StatusRequestEntityTooLarge, common.ErrSizeOutOfBounds.Error()
	case errors.Is(err, common.ErrDuplicateImage):
		return http.StatusConflict, common.ErrDuplicateImage.Error()
	case errors.Is(err, common.ErrSessionConsumed):
		return http.StatusConflict, common.ErrSessionConsumed.Error()
	case errors.Is(err, common.ErrSessionNotFound):
		return http.StatusNotFound, common.ErrSessionNotFound.Error()
	case errors.Is(err, common.ErrSessionExpired):
		return http.StatusGone, common.ErrSessionExpired.Error()
	case errors.Is(err, common.ErrRateLimited):
		return http.StatusTooManyRequests, common.ErrRateLimited.Error()
	case errors.Is(err, common.ErrClassifierUnavailable):
		return http.StatusServiceUnavailable, codeClassifierDown
	}
	return http.StatusInternalServerError, codeInternal
}

func (s *Server) writeSubmissionError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	resp := errorResponse{Error: code}

	var rej *services.Rejection
	if errors.As(err, &rej) {
		resp.Retryable = rej.Retryable()
		if rej.RetryAfter > 0 {
			secs := int64(math.Ceil(rej.RetryAfter.Seconds()))
			resp.RetryAfterSeconds = secs
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
	}

	switch status {
	case http.StatusInternalServerError:
		s.logger.Error(r.Context(), "submission failed", "error", err)
	case http.StatusServiceUnavailable:
		resp.Retryable = true
		s.logger.Warn(r.Context(), "submission deferred", "error", err)
	}

	writeJSON(w, status, resp)
}
