package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/cryptox"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/dmitrijs2005/scanrebate/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const imageField = "image"

type receiptForm struct {
	SessionID string `form:"session_id" validate:"required,max=128"`
	Recipient string `form:"recipient" validate:"required,email,max=254"`
}

// describeValidation turns validator errors into "field: rule" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+": "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}

type scanResponse struct {
	SessionID  string    `json:"session_id"`
	Status     string    `json:"status"`
	ExpiresAt  time.Time `json:"expires_at"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
}

type receiptResponse struct {
	ReceiptID string `json:"receipt_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

type webhookResponse struct {
	Applied bool `json:"applied"`
}

// sourceAddress is the client IP after RealIP has run.
func sourceAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// readImage parses the multipart form and returns the image part. Bodies
// beyond the largest accepted image are cut off and reported as
// size_out_of_bounds.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxImageBytes+multipartOverhead)

	if err := r.ParseMultipartForm(s.maxImageBytes + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, common.ErrSizeOutOfBounds.Error(), "")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, "multipart form expected")
		return nil, false
	}

	f, _, err := r.FormFile(imageField)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "image part is required")
		return nil, false
	}
	defer f.Close()

	image, err := io.ReadAll(io.LimitReader(f, s.maxImageBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "cannot read image")
		return nil, false
	}
	return image, true
}

func (s *Server) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	image, ok := s.readImage(w, r)
	if !ok {
		return
	}

	scan, err := s.gate.SubmitScan(r.Context(), services.ScanSubmission{
		Image:         image,
		SourceAddress: sourceAddress(r),
	})
	if err != nil {
		s.writeSubmissionError(w, r, err)
		return
	}

	info, err := s.gate.Session(r.Context(), scan.SessionID)
	if err != nil {
		s.writeSubmissionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, scanResponse{
		SessionID:  scan.SessionID,
		Status:     info.Status,
		ExpiresAt:  info.ExpiresAt,
		Label:      scan.DetectedLabel,
		Confidence: scan.Confidence,
	})
}

func (s *Server) handleSubmitReceipt(w http.ResponseWriter, r *http.Request) {
	image, ok := s.readImage(w, r)
	if !ok {
		return
	}

	form := receiptForm{
		SessionID: strings.TrimSpace(r.FormValue("session_id")),
		Recipient: strings.TrimSpace(r.FormValue("recipient")),
	}
	if err := s.validate.Struct(form); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, describeValidation(err))
		return
	}

	rec, err := s.gate.SubmitReceipt(r.Context(), services.ReceiptSubmission{
		SessionID: form.SessionID,
		Image:     image,
		Recipient: form.Recipient,
	})
	if err != nil {
		s.writeSubmissionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, receiptResponse{
		ReceiptID: rec.ID,
		SessionID: rec.SessionID,
		Status:    string(rec.Status),
		Amount:    rec.Amount.StringFixed(2),
		Currency:  rec.Currency,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.gate.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeSubmissionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePayoutWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "cannot read body")
		return
	}

	if err := cryptox.Verify(s.webhookSecret, r.Header.Get(cryptox.SignatureHeader), body, s.webhookTolerance, s.now()); err != nil {
		s.logger.Warn(r.Context(), "payout webhook signature rejected", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, codeInvalidSignature, "")
		return
	}

	var ev models.DeliveryEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.Reference == "" || ev.Type == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "reference and event_type are required")
		return
	}

	applied, err := s.deliveries.OnDeliveryEvent(r.Context(), ev)
	if err != nil {
		if errors.Is(err, services.ErrUnknownDeliveryEvent) {
			writeError(w, http.StatusUnprocessableEntity, codeUnknownEvent, fmt.Sprintf("event_type %q", ev.Type))
			return
		}
		s.logger.Error(r.Context(), "delivery event failed", "reference", ev.Reference, "event_type", ev.Type, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "")
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Applied: applied})
}
