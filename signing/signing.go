// Package signing holds the HMAC primitives shared by the webhook verifier
// and the review link tokenizer.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrSecretNotConfigured is returned when a component is built without its
// shared secret. It is a deployment defect, never a per-request outcome.
var ErrSecretNotConfigured = errors.New("signing secret not configured")

// HexHMAC returns the lowercase hex HMAC-SHA256 of msg under secret.
func HexHMAC(secret []byte, msg []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal reports whether a and b are identical. Inputs of different length
// are rejected up front; for equal lengths every byte pair is visited and
// XOR-accumulated, so the running time does not depend on the position of
// the first mismatch.
func Equal(a, b string) bool {
	ok, _ := compareSteps(a, b)
	return ok
}

// compareSteps is split from Equal so tests can assert the loop visits every
// byte pair. The count is the number of pairs visited.
func compareSteps(a, b string) (bool, int) {
	if len(a) != len(b) {
		return false, 0
	}
	var acc byte
	steps := 0
	for i := 0; i < len(a); i++ {
		acc |= a[i] ^ b[i]
		steps++
	}
	return acc == 0, steps
}
