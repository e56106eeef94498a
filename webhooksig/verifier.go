// Package webhooksig verifies payment provider webhook signatures.
//
// The provider sends a header of the form
//
//	t=<unix_seconds>,v1=<hex_hmac>[,v0=<hex_hmac>...]
//
// where each v1 value is HMAC-SHA256(secret, "<t>.<raw body>") in lowercase hex.
package webhooksig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dawitel/storefront-edge/signing"
)

// DefaultTolerance is the maximum allowed distance between the signed
// timestamp and the local clock.
const DefaultTolerance = 5 * time.Minute

// Failure reasons reported by Diagnose. They are meant for operator logs only.
const (
	ReasonMalformedHeader  = "malformed header"
	ReasonInvalidTimestamp = "invalid timestamp"
	ReasonStaleTimestamp   = "timestamp outside tolerance"
	ReasonMismatch         = "signature mismatch"
)

// Header is a parsed signature header. Only t and v1 entries are kept.
type Header struct {
	Timestamp  string
	Signatures []string
}

// Verifier handles signature verification for webhook payloads
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithTolerance sets the replay window. Zero disables the timestamp check.
func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) {
		v.tolerance = d
	}
}

// WithClock overrides the clock used for the replay window.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// New creates a new signature verifier
func New(secret string, opts ...Option) (*Verifier, error) {
	if secret == "" {
		return nil, signing.ErrSecretNotConfigured
	}
	v := &Verifier{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify reports whether rawBody carries a valid signature. rawBody must be
// the untouched request body.
func (v *Verifier) Verify(header string, rawBody []byte) bool {
	ok, _ := v.Diagnose(header, rawBody)
	return ok
}

// Diagnose is Verify plus the reason for a failure. The reason must not be
// returned to the sender.
func (v *Verifier) Diagnose(header string, rawBody []byte) (bool, string) {
	h, ok := ParseHeader(header)
	if !ok {
		return false, ReasonMalformedHeader
	}

	if v.tolerance > 0 {
		ts, err := strconv.ParseInt(h.Timestamp, 10, 64)
		if err != nil {
			return false, ReasonInvalidTimestamp
		}
		age := v.now().Sub(time.Unix(ts, 0))
		if age < 0 {
			age = -age
		}
		if age > v.tolerance {
			return false, ReasonStaleTimestamp
		}
	}

	expected := ComputeSignature(v.secret, h.Timestamp, rawBody)

	// Every candidate is compared so rotation entries do not change timing.
	matched := false
	for _, sig := range h.Signatures {
		if signing.Equal(expected, sig) {
			matched = true
		}
	}
	if !matched {
		return false, ReasonMismatch
	}
	return true, ""
}

// Verify checks header against rawBody with no replay window.
func Verify(secret string, header string, rawBody []byte) (bool, error) {
	v, err := New(secret, WithTolerance(0))
	if err != nil {
		return false, err
	}
	return v.Verify(header, rawBody), nil
}

// ParseHeader splits a comma separated key=value header. It fails when t or
// v1 is missing. Unknown keys are ignored.
func ParseHeader(header string) (Header, bool) {
	var h Header
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			if h.Timestamp == "" {
				h.Timestamp = value
			}
		case "v1":
			if value != "" {
				h.Signatures = append(h.Signatures, value)
			}
		}
	}
	if h.Timestamp == "" || len(h.Signatures) == 0 {
		return Header{}, false
	}
	return h, true
}

// ComputeSignature returns the hex HMAC of "<timestamp>.<body>".
func ComputeSignature(secret []byte, timestamp string, body []byte) string {
	payload := make([]byte, 0, len(timestamp)+1+len(body))
	payload = append(payload, timestamp...)
	payload = append(payload, '.')
	payload = append(payload, body...)
	return signing.HexHMAC(secret, payload)
}

// Sign produces a header value for body at the given time.
func Sign(secret string, timestamp int64, body []byte) string {
	ts := strconv.FormatInt(timestamp, 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, ComputeSignature([]byte(secret), ts, body))
}
