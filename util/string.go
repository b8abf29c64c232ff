package util

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strings"
	"time"
)

const alphanumeric = "AaBbCcDdEeFfGgHhIiJjKkLlMmNnOoPpQqRrSsTtUuVvWwXxYyZz1234567890"

// RandomAlphanumeric returns n characters drawn from [A-Za-z0-9] with crypto/rand.
func RandomAlphanumeric(n int) (string, error) {
	max := big.NewInt(int64(len(alphanumeric)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}

// RandomHex returns n random bytes hex encoded.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateSecretID returns a key id in the form YYYYMMDD_<20 hex chars>.
func GenerateSecretID(now time.Time) (string, error) {
	suffix, err := RandomHex(10)
	if err != nil {
		return "", err
	}
	return now.UTC().Format("20060102") + "_" + suffix, nil
}

// GenerateSecretValue returns 64 random bytes hex encoded.
func GenerateSecretValue() (string, error) {
	return RandomHex(64)
}

// DecodeURLBase64 decodes unpadded url-safe base64, tolerating trailing padding.
func DecodeURLBase64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// LowerKeys returns a copy of m with lower-cased keys.
func LowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}
