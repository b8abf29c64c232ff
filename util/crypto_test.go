package util

import (
	"testing"

	"github.com/tj/assert"
)

func TestSignHmacSHA256(t *testing.T) {
	// RFC 4231 test case 2
	sig := SignHmacSHA256("what do ya want for nothing?", "Jefe")
	assert.Equal(t, "W9zBRr9gdU5qBCQmCJV1x1oAPwidJzmDnexYuWTsOEM", sig)
	assert.True(t, VerifyHmacSHA256("what do ya want for nothing?", "Jefe", sig))
	assert.False(t, VerifyHmacSHA256("what do ya want for nothing!", "Jefe", sig))
}
