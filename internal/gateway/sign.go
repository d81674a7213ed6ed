package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignPayload returns the hex HMAC-SHA256 of body under key, the scheme both
// providers use for webhook bodies.
func SignPayload(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// VerifyPayload compares a received hex HMAC against the expected one in
// constant time.
func VerifyPayload(body, key []byte, received string) bool {
	expected := SignPayload(body, key)
	return hmac.Equal([]byte(received), []byte(expected))
}
