package webhooksig

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dawitel/storefront-edge/signing"
)

const testSecret = "whsec_test_secret"

var testBody = []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"metadata":{"order_id":"FF-2026-100001"}}}}`)

func fixedClock(ts int64) func() time.Time {
	return func() time.Time { return time.Unix(ts, 0) }
}

func TestNewRequiresSecret(t *testing.T) {
	v, err := New("")
	if !errors.Is(err, signing.ErrSecretNotConfigured) {
		t.Fatalf("expected ErrSecretNotConfigured, got %v", err)
	}
	if v != nil {
		t.Error("expected nil verifier")
	}
}

func TestVerifySignedHeader(t *testing.T) {
	header := Sign(testSecret, 1700000000, testBody)
	if !strings.HasPrefix(header, "t=1700000000,v1=") {
		t.Fatalf("unexpected header format: %s", header)
	}

	v, err := New(testSecret, WithTolerance(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !v.Verify(header, testBody) {
		t.Error("expected valid signature")
	}

	mutated := append([]byte{}, testBody...)
	mutated[len(mutated)-2] = '!'
	if v.Verify(header, mutated) {
		t.Error("expected mutated body to fail")
	}
}

func TestVerifyRejectsReserializedBody(t *testing.T) {
	body := []byte("{\"id\": \"evt_1\",  \"type\": \"x\"}")
	header := Sign(testSecret, 1700000000, body)

	v, _ := New(testSecret, WithTolerance(0))
	if v.Verify(header, []byte(`{"id":"evt_1","type":"x"}`)) {
		t.Error("expected compacted JSON to fail verification")
	}
}

func TestVerifyMalformedHeaders(t *testing.T) {
	v, _ := New(testSecret, WithTolerance(0))
	sig := ComputeSignature([]byte(testSecret), "1700000000", testBody)

	headers := []string{
		"",
		"t=1700000000",
		"v1=" + sig,
		"t=,v1=" + sig,
		"t=1700000000,v1=",
		"garbage",
		"t=1700000000,v0=" + sig,
	}
	for _, h := range headers {
		ok, reason := v.Diagnose(h, testBody)
		if ok {
			t.Errorf("header %q: expected failure", h)
		}
		if reason != ReasonMalformedHeader {
			t.Errorf("header %q: expected reason %q, got %q", h, ReasonMalformedHeader, reason)
		}
	}
}

func TestVerifyIgnoresUnknownKeys(t *testing.T) {
	v, _ := New(testSecret, WithTolerance(0))
	sig := ComputeSignature([]byte(testSecret), "1700000000", testBody)

	header := "t=1700000000, v0=deadbeef,scheme=x,v1=" + sig
	if !v.Verify(header, testBody) {
		t.Error("expected unknown keys to be ignored")
	}
}

func TestVerifyMultipleV1(t *testing.T) {
	v, _ := New(testSecret, WithTolerance(0))
	sig := ComputeSignature([]byte(testSecret), "1700000000", testBody)

	header := "t=1700000000,v1=" + strings.Repeat("0", 64) + ",v1=" + sig
	if !v.Verify(header, testBody) {
		t.Error("expected second v1 entry to match")
	}

	header = "t=1700000000,v1=" + strings.Repeat("0", 64) + ",v1=" + strings.Repeat("f", 64)
	if v.Verify(header, testBody) {
		t.Error("expected no match")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	header := Sign("other_secret", 1700000000, testBody)
	v, _ := New(testSecret, WithTolerance(0))
	ok, reason := v.Diagnose(header, testBody)
	if ok || reason != ReasonMismatch {
		t.Errorf("expected mismatch, got ok=%v reason=%q", ok, reason)
	}
}

func TestVerifyTolerance(t *testing.T) {
	const signedAt = 1700000000
	header := Sign(testSecret, signedAt, testBody)

	tests := []struct {
		name   string
		now    int64
		ok     bool
		reason string
	}{
		{"same second", signedAt, true, ""},
		{"within window", signedAt + 299, true, ""},
		{"at boundary", signedAt + 300, true, ""},
		{"stale", signedAt + 301, false, ReasonStaleTimestamp},
		{"far future", signedAt - 3600, false, ReasonStaleTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := New(testSecret, WithClock(fixedClock(tt.now)))
			ok, reason := v.Diagnose(header, testBody)
			if ok != tt.ok || reason != tt.reason {
				t.Errorf("got ok=%v reason=%q, want ok=%v reason=%q", ok, reason, tt.ok, tt.reason)
			}
		})
	}
}

func TestVerifyNonNumericTimestamp(t *testing.T) {
	sig := ComputeSignature([]byte(testSecret), "abc", testBody)
	header := "t=abc,v1=" + sig

	strict, _ := New(testSecret)
	if ok, reason := strict.Diagnose(header, testBody); ok || reason != ReasonInvalidTimestamp {
		t.Errorf("expected invalid timestamp, got ok=%v reason=%q", ok, reason)
	}

	lenient, _ := New(testSecret, WithTolerance(0))
	if !lenient.Verify(header, testBody) {
		t.Error("expected timestamp to be used verbatim when tolerance is off")
	}
}

func TestVerifyConcurrentUse(t *testing.T) {
	v, err := New(testSecret, WithClock(fixedClock(1700000010)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	valid := Sign(testSecret, 1700000000, testBody)
	stale := Sign(testSecret, 1600000000, testBody)
	forged := Sign("other_secret", 1700000000, testBody)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if !v.Verify(valid, testBody) {
					t.Error("expected valid header to verify")
					return
				}
				if _, reason := v.Diagnose(stale, testBody); reason != ReasonStaleTimestamp {
					t.Errorf("expected stale timestamp, got %q", reason)
					return
				}
				if _, reason := v.Diagnose(forged, testBody); reason != ReasonMismatch {
					t.Errorf("expected mismatch, got %q", reason)
					return
				}
				if v.Verify("t=abc,v1=00", testBody) {
					t.Error("expected malformed header to fail")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestPackageVerify(t *testing.T) {
	header := Sign(testSecret, 1700000000, testBody)

	ok, err := Verify(testSecret, header, testBody)
	if err != nil || !ok {
		t.Errorf("expected valid, got ok=%v err=%v", ok, err)
	}

	ok, err = Verify(testSecret, "t=1700000000", testBody)
	if err != nil || ok {
		t.Errorf("expected invalid without error, got ok=%v err=%v", ok, err)
	}

	if _, err := Verify("", header, testBody); !errors.Is(err, signing.ErrSecretNotConfigured) {
		t.Errorf("expected ErrSecretNotConfigured, got %v", err)
	}
}

func TestParseHeader(t *testing.T) {
	h, ok := ParseHeader("t=1700000000,v1=abc123,v1=def456,v0=zzz")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if h.Timestamp != "1700000000" {
		t.Errorf("expected timestamp 1700000000, got %s", h.Timestamp)
	}
	if len(h.Signatures) != 2 || h.Signatures[0] != "abc123" || h.Signatures[1] != "def456" {
		t.Errorf("unexpected signatures: %v", h.Signatures)
	}
}
