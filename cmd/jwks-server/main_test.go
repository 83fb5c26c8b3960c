package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aegishook/aegishook/internal/auth"
	"github.com/aegishook/aegishook/internal/logging"
)

func newTestIssuer(t *testing.T) *issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return &issuer{
		key:    key,
		iss:    "aegishook",
		aud:    "aegishook-api",
		logger: logging.New("jwks-server-test"),
	}
}

func TestJWKSHandler(t *testing.T) {
	s := newTestIssuer(t)

	req := httptest.NewRequest("GET", "/.well-known/jwks.json", nil)
	w := httptest.NewRecorder()
	s.handleJWKS(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=300" {
		t.Errorf("Cache-Control = %q", cc)
	}

	var doc auth.JSONWebKeySet
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal JWKS: %v", err)
	}
	if len(doc.Keys) != 1 {
		t.Fatalf("keys = %d, want 1", len(doc.Keys))
	}
	k := doc.Keys[0]
	if k.Kty != "RSA" || k.Use != "sig" || k.Kid != keyID {
		t.Errorf("unexpected key header fields: %+v", k)
	}

	pub, err := k.RSAPublicKey()
	if err != nil {
		t.Fatalf("JWK did not round-trip to an RSA key: %v", err)
	}
	if pub.N.Cmp(s.key.PublicKey.N) != 0 || pub.E != s.key.PublicKey.E {
		t.Error("served JWK does not match the signing key")
	}
}

func TestTokenHandler(t *testing.T) {
	s := newTestIssuer(t)

	tests := []struct {
		name         string
		body         string
		wantStatus   int
		wantContains string
	}{
		{
			name:         "valid request",
			body:         `{"tenant_id":"tenant-a"}`,
			wantStatus:   http.StatusOK,
			wantContains: "token",
		},
		{
			name:         "custom ttl",
			body:         `{"tenant_id":"tenant-a","ttl_seconds":7200}`,
			wantStatus:   http.StatusOK,
			wantContains: "expires_in",
		},
		{
			name:         "missing tenant_id",
			body:         `{}`,
			wantStatus:   http.StatusBadRequest,
			wantContains: "tenant_id is required",
		},
		{
			name:         "invalid json",
			body:         `{invalid`,
			wantStatus:   http.StatusBadRequest,
			wantContains: "invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/token", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.handleToken(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantContains) {
				t.Fatalf("body = %q, want to contain %q", w.Body.String(), tt.wantContains)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			if tokType, _ := resp["token_type"].(string); tokType != "Bearer" {
				t.Errorf("token_type = %q, want Bearer", tokType)
			}

			parsed, err := jwt.Parse(resp["token"].(string), func(*jwt.Token) (any, error) {
				return &s.key.PublicKey, nil
			})
			if err != nil || !parsed.Valid {
				t.Fatalf("minted token did not verify: %v", err)
			}
			claims := parsed.Claims.(jwt.MapClaims)
			if claims["iss"] != "aegishook" {
				t.Errorf("iss = %v, want aegishook", claims["iss"])
			}
			if claims["aud"] != "aegishook-api" {
				t.Errorf("aud = %v, want aegishook-api", claims["aud"])
			}
			if claims["tenant_id"] != "tenant-a" {
				t.Errorf("tenant_id = %v, want tenant-a", claims["tenant_id"])
			}
		})
	}
}

func TestDefaultTTL(t *testing.T) {
	s := newTestIssuer(t)

	req := httptest.NewRequest("POST", "/token", strings.NewReader(`{"tenant_id":"tenant-a","ttl_seconds":0}`))
	w := httptest.NewRecorder()
	s.handleToken(w, req)

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if expiresIn, _ := resp["expires_in"].(float64); expiresIn != 3600 {
		t.Errorf("expires_in = %v, want 3600", resp["expires_in"])
	}
}

// TestValidatorAcceptsMintedTokens exercises the full loop: the intake
// side fetches the served JWKS and validates a token minted here.
func TestValidatorAcceptsMintedTokens(t *testing.T) {
	s := newTestIssuer(t)

	srv := httptest.NewServer(http.HandlerFunc(s.handleJWKS))
	defer srv.Close()

	v, err := auth.NewValidatorFromJWKS(context.Background(), srv.URL, s.iss, s.aud)
	if err != nil {
		t.Fatalf("validator from JWKS: %v", err)
	}

	req := httptest.NewRequest("POST", "/token", strings.NewReader(`{"tenant_id":"tenant-b"}`))
	w := httptest.NewRecorder()
	s.handleToken(w, req)

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}

	tenant, err := v.ValidateToken(resp["token"].(string))
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if tenant != "tenant-b" {
		t.Errorf("tenant = %q, want tenant-b", tenant)
	}
}
