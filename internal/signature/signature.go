package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Webhook signing headers. The signature covers body||timestamp so a
// captured request cannot be replayed later with a fresh timestamp.
const (
	Header          = "X-AegisHook-Signature"
	TimestampHeader = "X-AegisHook-Timestamp"

	scheme = "sha256="
)

// Sign returns the signature header value for body and timestamp.
func Sign(secret string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(timestamp))
	return scheme + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature against the shared secret and
// rejects timestamps outside the allowed skew.
func Verify(secret string, body []byte, timestamp, sigHeader string, maxSkew time.Duration) error {
	if timestamp == "" {
		return fmt.Errorf("missing timestamp")
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("bad timestamp: %w", err)
	}
	skew := time.Since(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return fmt.Errorf("timestamp outside allowed skew %v", maxSkew)
	}
	if !strings.HasPrefix(sigHeader, scheme) {
		return fmt.Errorf("unexpected signature scheme")
	}
	want := Sign(secret, body, timestamp)
	if !hmac.Equal([]byte(sigHeader), []byte(want)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
