package util

import (
	"regexp"
	"testing"
	"time"

	"github.com/tj/assert"
)

func TestRandomAlphanumeric(t *testing.T) {
	s, err := RandomAlphanumeric(12)
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, s, 12)
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9]{12}$`), s)
}

func TestGenerateSecretID(t *testing.T) {
	id, err := GenerateSecretID(time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	assert.Regexp(t, regexp.MustCompile(`^20240307_[0-9a-f]{20}$`), id)

	value, err := GenerateSecretValue()
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, value, 128)
}

func TestDecodeURLBase64(t *testing.T) {
	b, err := DecodeURLBase64("eyJhbGciOiJIUzI1NiJ9")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, `{"alg":"HS256"}`, string(b))

	_, err = DecodeURLBase64("not base64!")
	assert.Error(t, err)
}
