package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aegishook/aegishook/internal/auth"
	"github.com/aegishook/aegishook/internal/config"
	"github.com/aegishook/aegishook/internal/logging"
)

const keyID = "aegishook-key-1"

// issuer holds the signing key and mints tenant-scoped bearer tokens
// for local stacks and demos. The intake service verifies them against
// the served JWKS document.
type issuer struct {
	key    *rsa.PrivateKey
	iss    string
	aud    string
	logger *logging.Logger
}

// loadKey reads an RSA private key from JWT_PRIVATE_KEY or generates a
// fresh pair.
func loadKey(logger *logging.Logger) (*rsa.PrivateKey, error) {
	if privateKeyPEM := os.Getenv("JWT_PRIVATE_KEY"); privateKeyPEM != "" {
		block, _ := pem.Decode([]byte(privateKeyPEM))
		if block == nil {
			logger.Plain().Fatal("failed to decode PEM private key")
		}
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	logger.Plain().Info("generating new RSA key pair for token signing")
	return rsa.GenerateKey(rand.Reader, 2048)
}

// handleJWKS serves the public key as a JWKS document.
func (s *issuer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	pub := &s.key.PublicKey
	doc := auth.JSONWebKeySet{
		Keys: []auth.JSONWebKey{{
			Kty: "RSA",
			Use: "sig",
			Kid: keyID,
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_ = json.NewEncoder(w).Encode(doc)
}

// handleToken mints a tenant-scoped RS256 bearer token.
func (s *issuer) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID string `json:"tenant_id"`
		TTL      int    `json:"ttl_seconds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = 3600
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":       s.iss,
		"aud":       s.aud,
		"sub":       req.TenantID,
		"tenant_id": req.TenantID,
		"iat":       time.Now().Unix(),
		"exp":       time.Now().Add(time.Duration(ttl) * time.Second).Unix(),
	})
	token.Header["kid"] = keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		http.Error(w, "failed to sign token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"token":      signed,
		"expires_in": ttl,
		"token_type": "Bearer",
	})
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("aegishook-jwks-server")

	key, err := loadKey(logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to load signing key")
	}
	s := &issuer{key: key, iss: cfg.Auth.Issuer, aud: cfg.Auth.Audience, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", s.handleJWKS)
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8085"
	}

	logger.Plain().WithField("port", port).Info("jwks server starting")
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Plain().WithError(err).Fatal("jwks server failed")
	}
}
