// Package classifier adapts the external brand-detection service. The core
// only sees the Classifier interface; which implementation runs is decided
// by configuration.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"github.com/dmitrijs2005/scanrebate/internal/netx"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
)

// Classifier detects the product in an image.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (models.Classification, error)
}

// HTTPClassifier posts the image to a classification endpoint.
type HTTPClassifier struct {
	client  *http.Client
	url     string
	timeout time.Duration
	logger  logging.Logger
}

func NewHTTPClassifier(url string, timeout time.Duration, client *http.Client, l logging.Logger) *HTTPClassifier {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClassifier{
		client:  client,
		url:     url,
		timeout: timeout,
		logger:  l.With("module", "classifier"),
	}
}

type classifyRequest struct {
	Image []byte `json:"image"`
}

// Classify returns common.ErrClassifierUnavailable for transport errors,
// timeouts, non-2xx responses and malformed results.
func (c *HTTPClassifier) Classify(ctx context.Context, image []byte) (models.Classification, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	raw, _, err := netx.SendJSON(ctx, c.client, http.MethodPost, c.url, classifyRequest{Image: image}, nil, c.logger)
	if err != nil {
		c.logger.Warn(ctx, "classifier call failed", "error", err)
		return models.Classification{}, fmt.Errorf("%w: %v", common.ErrClassifierUnavailable, err)
	}

	var out models.Classification
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.Classification{}, fmt.Errorf("%w: decode: %v", common.ErrClassifierUnavailable, err)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return models.Classification{}, fmt.Errorf("%w: confidence %v out of range", common.ErrClassifierUnavailable, out.Confidence)
	}

	return out, nil
}

// Stub returns a fixed result without looking at the image. It stands in for
// the detection model in development and demos.
type Stub struct {
	Result models.Classification
}

// NewStub returns a Stub with a fixed high-confidence result.
func NewStub() *Stub {
	return &Stub{Result: models.Classification{Label: "stub", Confidence: 0.99}}
}

func (s *Stub) Classify(ctx context.Context, _ []byte) (models.Classification, error) {
	if err := ctx.Err(); err != nil {
		return models.Classification{}, errors.Join(common.ErrClassifierUnavailable, err)
	}
	return s.Result, nil
}
