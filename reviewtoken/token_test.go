package reviewtoken

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dawitel/storefront-edge/signing"
)

const testSecret = "review_link_secret"

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mustNew(t *testing.T, opts ...Option) *Tokenizer {
	t.Helper()
	tk, err := New(testSecret, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tk
}

// forge signs an arbitrary JSON document the way Issue does.
func forge(raw string) string {
	payload := encoding.EncodeToString([]byte(raw))
	return payload + "." + signing.HexHMAC([]byte(testSecret), []byte(payload))
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(""); !errors.Is(err, signing.ErrSecretNotConfigured) {
		t.Fatalf("expected ErrSecretNotConfigured, got %v", err)
	}
	if _, err := Issue("", "FF-1", "a@b.c"); !errors.Is(err, signing.ErrSecretNotConfigured) {
		t.Errorf("Issue: expected ErrSecretNotConfigured, got %v", err)
	}
	if _, err := Verify("", "x.y", "FF-1"); !errors.Is(err, signing.ErrSecretNotConfigured) {
		t.Errorf("Verify: expected ErrSecretNotConfigured, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	tk := mustNew(t)
	cases := []struct{ orderID, email string }{
		{"FF-2026-100001", "buyer@example.com"},
		{"FF-1", "Mixed.Case@Example.COM"},
		{"order/with?chars&=", "ünïcode@example.com"},
	}
	for _, c := range cases {
		token, err := tk.Issue(c.orderID, c.email)
		if err != nil {
			t.Fatalf("Issue(%q): %v", c.orderID, err)
		}
		if !tk.Verify(token, c.orderID) {
			t.Errorf("expected token for %q to verify", c.orderID)
		}
	}
}

func TestPackageRoundTrip(t *testing.T) {
	token, err := Issue(testSecret, "FF-2026-100001", "buyer@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	ok, err := Verify(testSecret, token, "FF-2026-100001")
	if err != nil || !ok {
		t.Errorf("expected valid, got ok=%v err=%v", ok, err)
	}
}

func TestIssueEncoding(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tk := mustNew(t, WithClock(clockAt(now)))

	token, err := tk.Issue("FF-2026-100001", "  Buyer@Example.COM ")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if strings.ContainsAny(token, "=+/") {
		t.Errorf("token is not unpadded base64url: %s", token)
	}

	payload, sig, found := strings.Cut(token, ".")
	if !found {
		t.Fatalf("expected a dot separator in %s", token)
	}
	if sig != signing.HexHMAC([]byte(testSecret), []byte(payload)) {
		t.Error("signature does not cover the encoded payload")
	}

	raw, err := encoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.OrderID != "FF-2026-100001" {
		t.Errorf("expected order id FF-2026-100001, got %s", p.OrderID)
	}
	if p.Email != "buyer@example.com" {
		t.Errorf("expected lowercased email, got %s", p.Email)
	}
	if !p.ExpiresAt().Equal(now.Add(45 * 24 * time.Hour)) {
		t.Errorf("expected expiry 45 days out, got %v", p.ExpiresAt())
	}
	if want := `{"order_id":"FF-2026-100001","email":"buyer@example.com","exp":`; !strings.HasPrefix(string(raw), want) {
		t.Errorf("unexpected payload JSON %s", raw)
	}
}

func TestIssueRequiresOrderID(t *testing.T) {
	tk := mustNew(t)
	if _, err := tk.Issue("", "a@b.c"); !errors.Is(err, ErrMissingOrderID) {
		t.Errorf("expected ErrMissingOrderID, got %v", err)
	}
}

func TestTamperSensitivity(t *testing.T) {
	tk := mustNew(t)
	token, err := tk.Issue("FF-2026-100001", "buyer@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			continue
		}
		b := []byte(token)
		if b[i] == 'a' {
			b[i] = 'b'
		} else {
			b[i] = 'a'
		}
		if tk.Verify(string(b), "FF-2026-100001") {
			t.Fatalf("flipping byte %d (%q) still verified", i, token[i])
		}
	}
}

func TestCrossOrderRejection(t *testing.T) {
	tk := mustNew(t)
	token, err := tk.Issue("FF-2026-100001", "buyer@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, ok, reason := tk.Diagnose(token, "FF-2026-999999")
	if ok {
		t.Fatal("expected token to be rejected for another order")
	}
	if reason != ReasonOrderMismatch {
		t.Errorf("expected reason %q, got %q", ReasonOrderMismatch, reason)
	}
}

func TestExpiry(t *testing.T) {
	now := time.Now()

	issuer := mustNew(t, WithClock(clockAt(now.Add(-Validity).Add(-time.Millisecond))))
	token, err := issuer.Issue("FF-1", "a@b.c")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	verifier := mustNew(t, WithClock(clockAt(now)))
	_, ok, reason := verifier.Diagnose(token, "FF-1")
	if ok || reason != ReasonExpired {
		t.Errorf("expected expired, got ok=%v reason=%q", ok, reason)
	}

	// Exactly at exp is still valid.
	issuedAt := time.UnixMilli(now.UnixMilli())
	issuer = mustNew(t, WithClock(clockAt(issuedAt)))
	token, _ = issuer.Issue("FF-1", "a@b.c")
	atExp := mustNew(t, WithClock(clockAt(issuedAt.Add(Validity))))
	if !atExp.Verify(token, "FF-1") {
		t.Error("expected token to be valid at its expiry instant")
	}
	afterExp := mustNew(t, WithClock(clockAt(issuedAt.Add(Validity).Add(time.Millisecond))))
	if afterExp.Verify(token, "FF-1") {
		t.Error("expected token to be invalid after its expiry instant")
	}
}

func TestMalformedTokens(t *testing.T) {
	tk := mustNew(t)
	tokens := []string{
		"",
		"not-a-valid-token",
		".",
		"abc.",
		".abc",
	}
	for _, tok := range tokens {
		_, ok, reason := tk.Diagnose(tok, "FF-1")
		if ok {
			t.Errorf("token %q: expected failure", tok)
		}
		if reason != ReasonMalformed {
			t.Errorf("token %q: expected reason %q, got %q", tok, ReasonMalformed, reason)
		}
	}

	ok, err := Verify(testSecret, "not-a-valid-token", "FF-1")
	if err != nil || ok {
		t.Errorf("expected false without error, got ok=%v err=%v", ok, err)
	}
}

func TestSignedButBadPayload(t *testing.T) {
	tk := mustNew(t)
	future := time.Now().Add(time.Hour).UnixMilli()

	payloads := map[string]string{
		"not json":       `not json`,
		"unknown field":  `{"order_id":"FF-1","email":"a@b.c","exp":` + itoa(future) + `,"admin":true}`,
		"missing exp":    `{"order_id":"FF-1","email":"a@b.c"}`,
		"null exp":       `{"order_id":"FF-1","email":"a@b.c","exp":null}`,
		"huge exp":       `{"order_id":"FF-1","email":"a@b.c","exp":1e400}`,
		"exp past int64": `{"order_id":"FF-1","email":"a@b.c","exp":1e30}`,
		"string exp":     `{"order_id":"FF-1","email":"a@b.c","exp":"` + itoa(future) + `"}`,
		"bool exp":       `{"order_id":"FF-1","email":"a@b.c","exp":true}`,
		"object exp":     `{"order_id":"FF-1","email":"a@b.c","exp":{"ms":1}}`,
		"numeric email":  `{"order_id":"FF-1","email":7,"exp":` + itoa(future) + `}`,
		"trailing data":  `{"order_id":"FF-1","email":"a@b.c","exp":` + itoa(future) + `} {}`,
		"array":          `[1,2,3]`,
	}
	for name, raw := range payloads {
		t.Run(name, func(t *testing.T) {
			_, ok, reason := tk.Diagnose(forge(raw), "FF-1")
			if ok || reason != ReasonBadPayload {
				t.Errorf("expected bad payload, got ok=%v reason=%q", ok, reason)
			}
		})
	}

	// Invalid base64 with a valid signature over it.
	bad := "!!!"
	token := bad + "." + signing.HexHMAC([]byte(testSecret), []byte(bad))
	if _, ok, reason := tk.Diagnose(token, "FF-1"); ok || reason != ReasonBadPayload {
		t.Errorf("expected bad payload for invalid base64, got ok=%v reason=%q", ok, reason)
	}
}

func TestFractionalExp(t *testing.T) {
	tk := mustNew(t)
	future := float64(time.Now().Add(time.Hour).UnixMilli()) + 0.5
	raw := `{"order_id":"FF-1","email":"a@b.c","exp":` + jsonFloat(future) + `}`
	if !tk.Verify(forge(raw), "FF-1") {
		t.Error("expected a finite fractional exp in the future to verify")
	}
}

func TestLargeExpInRange(t *testing.T) {
	tk := mustNew(t)
	raw := `{"order_id":"FF-1","email":"a@b.c","exp":9e15}`
	p, ok := tk.Open(forge(raw), "FF-1")
	if !ok {
		t.Fatal("expected an exp inside int64 range to verify")
	}
	if p.Exp != 9000000000000000 {
		t.Errorf("expected exp 9000000000000000, got %d", p.Exp)
	}
}

func TestConcurrentUse(t *testing.T) {
	tk := mustNew(t)
	shared, err := tk.Issue("FF-shared", "shared@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orderID := "FF-" + itoa(int64(i))
			for j := 0; j < 50; j++ {
				token, err := tk.Issue(orderID, "buyer@example.com")
				if err != nil {
					t.Errorf("Issue(%s): %v", orderID, err)
					return
				}
				if !tk.Verify(token, orderID) {
					t.Errorf("expected %s token to verify", orderID)
					return
				}
				if tk.Verify(token, "FF-other") {
					t.Errorf("expected %s token to fail for another order", orderID)
					return
				}
				if _, ok, reason := tk.Diagnose(shared, orderID); ok || reason != ReasonOrderMismatch {
					t.Errorf("expected order mismatch, got ok=%v reason=%q", ok, reason)
					return
				}
				if p, ok := tk.Open(shared, "FF-shared"); !ok || p.Email != "shared@example.com" {
					t.Errorf("expected shared token to open, got ok=%v %+v", ok, p)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestOpenReturnsPayload(t *testing.T) {
	tk := mustNew(t)
	token, _ := tk.Issue("FF-7", "Buyer@Example.com")

	p, ok := tk.Open(token, "FF-7")
	if !ok {
		t.Fatal("expected token to open")
	}
	if p.Email != "buyer@example.com" || p.OrderID != "FF-7" {
		t.Errorf("unexpected payload %+v", p)
	}

	p, ok = tk.Open(token, "FF-8")
	if ok || p != (Payload{}) {
		t.Errorf("expected empty payload on failure, got %+v", p)
	}
}

func TestWrongSecret(t *testing.T) {
	token, _ := Issue("other", "FF-1", "a@b.c")
	tk := mustNew(t)
	if _, ok, reason := tk.Diagnose(token, "FF-1"); ok || reason != ReasonMismatch {
		t.Errorf("expected signature mismatch, got ok=%v reason=%q", ok, reason)
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func jsonFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}
