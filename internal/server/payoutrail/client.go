// Package payoutrail is the client for the external payout rail: OAuth2
// client-credentials authentication and idempotent payout submission.
package payoutrail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"github.com/dmitrijs2005/scanrebate/internal/netx"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrOutcomeUnknown means the rail may or may not have accepted the payout.
// Callers must not retry blindly under a new idempotency key.
var ErrOutcomeUnknown = errors.New("payout outcome unknown")

// RejectedError is a clear refusal: no money moved.
type RejectedError struct {
	StatusCode int
	Name       string
	Message    string
	Retryable  bool
}

func (e *RejectedError) Error() string {
	msg := e.Name
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return fmt.Sprintf("payout rejected (%d) %s", e.StatusCode, msg)
}

// Payout is one payout item.
type Payout struct {
	IdempotencyKey string
	Recipient      string
	Amount         decimal.Decimal
	Currency       string
	Note           string
}

// Result is the rail's accepted-for-processing answer.
type Result struct {
	Reference string
}

// Rail submits payouts.
type Rail interface {
	Submit(ctx context.Context, p Payout) (*Result, error)
}

type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client is a Rail over HTTP.
type Client struct {
	cfg     Config
	http    *http.Client
	logger  logging.Logger
	backoff func() retry.Backoff

	creds clientcredentials.Config

	mu  sync.Mutex
	tok *oauth2.Token
}

func NewClient(cfg Config, httpClient *http.Client, l logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:  cfg,
		http: httpClient,
		creds: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		logger: l.With("module", "payoutrail"),
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
		},
	}
}

// cached returns the current token while it is still valid.
func (c *Client) cached() *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tok.Valid() {
		return c.tok
	}
	return nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.tok = nil
	c.mu.Unlock()
}

// fetchToken runs one credential exchange bounded by the rail timeout.
func (c *Client) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	return c.creds.Token(ctx)
}

func (c *Client) token(ctx context.Context) (*oauth2.Token, error) {
	if tok := c.cached(); tok != nil {
		return tok, nil
	}

	var tok *oauth2.Token
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		t, err := c.fetchToken(ctx)
		if err != nil {
			var re *oauth2.RetrieveError
			if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode/100 == 4 {
				return err
			}
			c.logger.Warn(ctx, "token fetch failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		tok = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tok = tok
	c.mu.Unlock()
	return tok, nil
}

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type payoutRequest struct {
	Recipient string `json:"recipient"`
	Amount    amount `json:"amount"`
	Note      string `json:"note,omitempty"`
}

type payoutResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Submit sends p once. It returns *RejectedError when the rail clearly
// refused the payout and an error wrapping ErrOutcomeUnknown when it cannot
// tell.
func (c *Client) Submit(ctx context.Context, p Payout) (*Result, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, &RejectedError{Name: "CREDENTIAL_UNAVAILABLE", Message: err.Error(), Retryable: true}
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	body := payoutRequest{
		Recipient: p.Recipient,
		Amount:    amount{Value: p.Amount.StringFixed(2), Currency: p.Currency},
		Note:      p.Note,
	}
	headers := map[string]string{
		"Authorization":   tok.Type() + " " + tok.AccessToken,
		"Idempotency-Key": p.IdempotencyKey,
	}

	raw, status, err := netx.SendJSON(ctx, c.http, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/v1/payouts", body, headers, c.logger)

	var se *netx.StatusError
	switch {
	case err == nil:
		var out payoutResponse
		if jerr := json.Unmarshal(raw, &out); jerr != nil || out.Reference == "" {
			return nil, fmt.Errorf("%w: accepted without reference", ErrOutcomeUnknown)
		}
		return &Result{Reference: out.Reference}, nil
	case errors.As(err, &se):
		return nil, c.classify(ctx, status, raw)
	default:
		return nil, fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}
}

func (c *Client) classify(ctx context.Context, status int, raw []byte) error {
	var er errorResponse
	hasPayload := json.Unmarshal(raw, &er) == nil && er.Name != ""
	rejected := &RejectedError{StatusCode: status, Name: er.Name, Message: er.Message}

	switch {
	case status == http.StatusUnauthorized:
		c.resetToken()
		rejected.Retryable = true
		return rejected
	case (status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable) && hasPayload:
		rejected.Retryable = true
		return rejected
	case status == http.StatusRequestTimeout || status == http.StatusConflict:
		return fmt.Errorf("%w: status %d", ErrOutcomeUnknown, status)
	case status/100 == 4:
		return rejected
	}

	c.logger.Warn(ctx, "payout rail server error", "status", status)
	return fmt.Errorf("%w: status %d", ErrOutcomeUnknown, status)
}
