package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// TenantIDKey carries the authenticated tenant through request contexts.
const TenantIDKey contextKey = "tenant_id"

// Validator checks bearer tokens on the intake API. In disabled mode it
// trusts the x-tenant-id header instead, for local development with no
// ingress in front.
type Validator struct {
	key      *rsa.PublicKey
	issuer   string
	audience string
	disabled bool
}

func NewValidator(publicKeyPEM, issuer, audience string) (*Validator, error) {
	key, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return &Validator{key: key, issuer: issuer, audience: audience}, nil
}

// NewValidatorFromJWKS fetches the signing key from a JWKS endpoint at
// startup.
func NewValidatorFromJWKS(ctx context.Context, jwksURL, issuer, audience string) (*Validator, error) {
	key, err := FetchJWKS(ctx, jwksURL)
	if err != nil {
		return nil, err
	}
	return &Validator{key: key, issuer: issuer, audience: audience}, nil
}

// NewDisabled returns a validator that skips token checks and reads the
// tenant from the x-tenant-id header.
func NewDisabled() *Validator {
	return &Validator{disabled: true}
}

// ParsePublicKey decodes a PEM-encoded RSA public key in either PKCS1
// or PKIX form.
func ParsePublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %v", err)
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaKey, nil
}

// ValidateToken verifies signature, issuer and audience and returns the
// tenant_id claim.
func (v *Validator) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %v", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	if iss, ok := claims["iss"].(string); !ok || iss != v.issuer {
		return "", fmt.Errorf("invalid issuer")
	}
	if aud, ok := claims["aud"].(string); !ok || aud != v.audience {
		return "", fmt.Errorf("invalid audience")
	}
	tenantID, ok := claims["tenant_id"].(string)
	if !ok || tenantID == "" {
		return "", fmt.Errorf("missing or invalid tenant_id claim")
	}
	return tenantID, nil
}

// skipAuth lists the paths served without a tenant identity.
func skipAuth(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

// HTTPMiddleware resolves the tenant for every API request and stores
// it in the request context.
func (v *Validator) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if v.disabled {
			tenantID := r.Header.Get("x-tenant-id")
			if tenantID == "" {
				http.Error(w, "missing x-tenant-id header", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing Authorization header", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "invalid Authorization header format", http.StatusUnauthorized)
			return
		}
		tenantID, err := v.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
	})
}

// WithTenant returns a context carrying the tenant identity.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// TenantFromContext extracts the tenant identity set by the middleware.
func TenantFromContext(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(TenantIDKey).(string)
	return tenantID, ok
}

// JSONWebKeySet is the JWKS document shape.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

type JSONWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// RSAPublicKey converts the JWK modulus and exponent into a key usable
// for verification.
func (k JSONWebKey) RSAPublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e <= 0 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

// FetchJWKS downloads a JWKS document and returns the first RSA signing
// key in it.
func FetchJWKS(ctx context.Context, jwksURL string) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}
	var jwks JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		return k.RSAPublicKey()
	}
	return nil, fmt.Errorf("no RSA signing key in JWKS")
}
