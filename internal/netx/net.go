// Package netx holds the JSON-over-HTTP helper shared by the outbound
// collaborator clients.
package netx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"github.com/google/uuid"
)

// maxResponseBytes caps how much of a collaborator's response is read.
const maxResponseBytes = 1 << 20

// StatusError is returned for non-2xx responses. Body holds the raw payload
// so callers can decode an error document.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-2xx status: %d", e.StatusCode)
}

// SendJSON marshals body, sends it with method to url and returns the raw
// response body. A nil body sends no payload. Transport failures are returned
// as is; a non-2xx status yields *StatusError together with the body.
func SendJSON(ctx context.Context, client *http.Client, method, url string, body any, headers map[string]string, logger logging.Logger) ([]byte, int, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.Nop{}
	}

	reqID := uuid.New().String()
	start := time.Now()

	var payload io.Reader
	size := 0
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode json: %w", err)
		}
		payload = bytes.NewReader(bs)
		size = len(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logger.Debug(ctx, "http request", "req_id", reqID, "method", method, "url", url, "content_length", size)

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn(ctx, "http send error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	logger.Debug(ctx, "http response", "req_id", reqID, "status", resp.StatusCode, "bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode/100 != 2 {
		return raw, resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: raw}
	}
	return raw, resp.StatusCode, nil
}
