// Package reviewtoken issues and verifies the signed tokens embedded in
// emailed review-request links.
//
// A token is base64url(JSON payload) + "." + hex(HMAC-SHA256(secret, base64url payload)).
// It is self-contained: verification needs only the secret.
package reviewtoken

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dawitel/storefront-edge/signing"
)

// Validity is how long an issued token stays valid.
const Validity = 45 * 24 * time.Hour

// Failure reasons reported by Diagnose, for operator logs only.
const (
	ReasonMalformed     = "malformed token"
	ReasonMismatch      = "signature mismatch"
	ReasonBadPayload    = "undecodable payload"
	ReasonOrderMismatch = "order mismatch"
	ReasonExpired       = "expired"
)

// ErrMissingOrderID is returned by Issue for an empty order id.
var ErrMissingOrderID = errors.New("order id is required")

var encoding = base64.RawURLEncoding

// Payload is the signed content of a token. Exp is in unix milliseconds.
type Payload struct {
	OrderID string `json:"order_id"`
	Email   string `json:"email"`
	Exp     int64  `json:"exp"`
}

// ExpiresAt returns Exp as a time.
func (p Payload) ExpiresAt() time.Time {
	return time.UnixMilli(p.Exp)
}

// wirePayload keeps exp raw so strings, nulls and out of range values can
// be rejected instead of coerced.
type wirePayload struct {
	OrderID string          `json:"order_id"`
	Email   string          `json:"email"`
	Exp     json.RawMessage `json:"exp"`
}

// Tokenizer issues and verifies review tokens under one secret.
type Tokenizer struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithClock overrides the clock used for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(t *Tokenizer) {
		t.now = now
	}
}

// New creates a Tokenizer. An empty secret is a configuration error.
func New(secret string, opts ...Option) (*Tokenizer, error) {
	if secret == "" {
		return nil, signing.ErrSecretNotConfigured
	}
	t := &Tokenizer{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue returns a token authorizing a review for orderID by email.
func (t *Tokenizer) Issue(orderID, email string) (string, error) {
	if orderID == "" {
		return "", ErrMissingOrderID
	}
	p := Payload{
		OrderID: orderID,
		Email:   strings.ToLower(strings.TrimSpace(email)),
		Exp:     t.now().Add(Validity).UnixMilli(),
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	payload := encoding.EncodeToString(raw)
	return payload + "." + signing.HexHMAC(t.secret, []byte(payload)), nil
}

// Verify reports whether token is authentic, unexpired and bound to
// expectedOrderID. Every failure looks the same to the caller.
func (t *Tokenizer) Verify(token, expectedOrderID string) bool {
	_, ok, _ := t.Diagnose(token, expectedOrderID)
	return ok
}

// Open is Verify that also returns the payload of a valid token.
func (t *Tokenizer) Open(token, expectedOrderID string) (Payload, bool) {
	p, ok, _ := t.Diagnose(token, expectedOrderID)
	return p, ok
}

// Diagnose runs the full verification and names the failing check. The
// reason is for logs and must not reach the link holder.
func (t *Tokenizer) Diagnose(token, expectedOrderID string) (Payload, bool, string) {
	payload, sig, found := strings.Cut(token, ".")
	if !found || payload == "" || sig == "" {
		return Payload{}, false, ReasonMalformed
	}

	if !signing.Equal(signing.HexHMAC(t.secret, []byte(payload)), sig) {
		return Payload{}, false, ReasonMismatch
	}

	p, exp, err := decodePayload(payload)
	if err != nil {
		return Payload{}, false, ReasonBadPayload
	}

	if p.OrderID != expectedOrderID {
		return Payload{}, false, ReasonOrderMismatch
	}

	if float64(t.now().UnixMilli()) > exp {
		return Payload{}, false, ReasonExpired
	}

	return p, true, ""
}

func decodePayload(payload string) (Payload, float64, error) {
	raw, err := encoding.DecodeString(payload)
	if err != nil {
		return Payload{}, 0, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var w wirePayload
	if err := dec.Decode(&w); err != nil {
		return Payload{}, 0, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Payload{}, 0, errors.New("trailing data after payload")
	}

	exp, err := parseExp(w.Exp)
	if err != nil {
		return Payload{}, 0, err
	}

	return Payload{OrderID: w.OrderID, Email: w.Email, Exp: int64(exp)}, exp, nil
}

// parseExp accepts only a JSON number literal that fits in int64 milliseconds.
func parseExp(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, errors.New("exp is not a number")
	}
	exp, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsInf(exp, 0) || math.IsNaN(exp) {
		return 0, errors.New("exp is not a finite number")
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if exp >= float64(math.MaxInt64) || exp < float64(math.MinInt64) {
		return 0, errors.New("exp is out of range")
	}
	return exp, nil
}

// Issue is a one-shot Tokenizer.Issue with the wall clock.
func Issue(secret, orderID, email string) (string, error) {
	t, err := New(secret)
	if err != nil {
		return "", err
	}
	return t.Issue(orderID, email)
}

// Verify is a one-shot Tokenizer.Verify with the wall clock.
func Verify(secret, token, expectedOrderID string) (bool, error) {
	t, err := New(secret)
	if err != nil {
		return false, err
	}
	return t.Verify(token, expectedOrderID), nil
}
