package signature

import (
	"strings"
	"testing"
	"time"
)

func TestSignVerify(t *testing.T) {
	body := []byte(`{"event_id":"evt-1"}`)
	ts := time.Now().UTC().Format(time.RFC3339)
	sig := Sign("topsecret", body, ts)

	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("signature missing scheme: %q", sig)
	}
	if err := Verify("topsecret", body, ts, sig, 5*time.Minute); err != nil {
		t.Errorf("verify: %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	body := []byte(`payload`)
	ts := time.Now().UTC().Format(time.RFC3339)
	sig := Sign("topsecret", body, ts)

	tests := []struct {
		name   string
		secret string
		body   []byte
		ts     string
		sig    string
	}{
		{name: "wrong secret", secret: "other", body: body, ts: ts, sig: sig},
		{name: "tampered body", secret: "topsecret", body: []byte("payload!"), ts: ts, sig: sig},
		{name: "tampered timestamp", secret: "topsecret", body: body, ts: time.Now().Add(time.Minute).UTC().Format(time.RFC3339), sig: sig},
		{name: "missing timestamp", secret: "topsecret", body: body, ts: "", sig: sig},
		{name: "garbage timestamp", secret: "topsecret", body: body, ts: "not-a-time", sig: sig},
		{name: "wrong scheme", secret: "topsecret", body: body, ts: ts, sig: strings.Replace(sig, "sha256=", "md5=", 1)},
		{
			name:   "stale timestamp",
			secret: "topsecret",
			body:   body,
			ts:     time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
			sig:    Sign("topsecret", body, time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Verify(tt.secret, tt.body, tt.ts, tt.sig, 5*time.Minute); err == nil {
				t.Error("expected verification failure, got nil")
			}
		})
	}
}

func TestSignDeterministic(t *testing.T) {
	body := []byte("abc")
	if Sign("k", body, "2025-06-01T00:00:00Z") != Sign("k", body, "2025-06-01T00:00:00Z") {
		t.Error("same input produced different signatures")
	}
	if Sign("k", body, "2025-06-01T00:00:00Z") == Sign("k", body, "2025-06-01T00:00:01Z") {
		t.Error("timestamp not part of the MAC input")
	}
}
