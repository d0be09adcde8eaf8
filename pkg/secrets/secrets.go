package secrets

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// GenerateSecret returns a random hex secret of n bytes entropy
func GenerateSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashSecret returns the hex SHA-256 digest of a secret. Used as the
// lookup index so raw secrets never appear in key names.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEquals compares two strings without leaking length-prefix
// timing on the match
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SignPayload computes the hex HMAC-SHA256 of body under key
func SignPayload(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 signature in constant time
func VerifySignature(key string, body []byte, signature string) bool {
	expected := SignPayload(key, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
