// Package cryptox signs and verifies inbound webhook payloads.
//
// The signature header has the form
//
//	t=<unix seconds>,v1=<hex HMAC-SHA256 of "<t>.<body>">
//
// and may carry several v1 entries while a secret is being rotated.
package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
)

// SignatureHeader is the HTTP header carrying the webhook signature.
const SignatureHeader = "X-Payout-Signature"

func mac(secret []byte, ts int64, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte("."))
	h.Write(body)
	return h.Sum(nil)
}

// Sign produces a header value for body at time ts.
func Sign(secret []byte, ts time.Time, body []byte) string {
	unix := ts.Unix()
	return "t=" + strconv.FormatInt(unix, 10) + ",v1=" + hex.EncodeToString(mac(secret, unix, body))
}

// Verify checks header against body. The timestamp must be within tolerance
// of now in either direction. Any failure returns common.ErrInvalidSignature.
func Verify(secret []byte, header string, body []byte, tolerance time.Duration, now time.Time) error {
	var ts int64
	var sigs [][]byte
	haveTS := false

	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return common.ErrInvalidSignature
			}
			ts, haveTS = n, true
		case "v1":
			b, err := hex.DecodeString(v)
			if err != nil {
				continue
			}
			sigs = append(sigs, b)
		}
	}

	if !haveTS || len(sigs) == 0 {
		return common.ErrInvalidSignature
	}

	age := now.Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > tolerance {
		return common.ErrInvalidSignature
	}

	expected := mac(secret, ts, body)
	for _, s := range sigs {
		if hmac.Equal(expected, s) {
			return nil
		}
	}
	return common.ErrInvalidSignature
}
