package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignHmacSHA256 returns the unpadded base64url HMAC-SHA256 of input keyed with key.
func SignHmacSHA256(input, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(input))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyHmacSHA256 compares signature against the HMAC of input in constant time.
func VerifyHmacSHA256(input, key, signature string) bool {
	expected := SignHmacSHA256(input, key)
	return hmac.Equal([]byte(expected), []byte(signature))
}
