package types

import "errors"

var (
	// ErrInternal (for unahandled exceptions)
	ErrInternal = errors.New("internal error")

	// ErrNotFound is returned when the requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrBadRequest is returned on invalid caller input
	ErrBadRequest = errors.New("bad request")

	// ErrConflict is returned when a conditional write loses a race
	ErrConflict = errors.New("conflict")

	// ErrNotAuthorized is returned when the backing store rejects our credentials
	ErrNotAuthorized = errors.New("not authorized")
)

// token verification
var (
	ErrMalformedToken       = errors.New("malformed token")
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	ErrSignatureInvalid     = errors.New("signature verification failed")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenNotYetValid     = errors.New("token not yet valid")
	ErrPathMismatch         = errors.New("uri does not match any token path")
	ErrSessionBlocked       = errors.New("session is revoked")
)

// token issuance
var (
	ErrPolicyViolation = errors.New("token policy violation")
	ErrInvalidExpiry   = errors.New("invalid exp format")
	ErrInvalidIP       = errors.New("invalid viewer ip")
	ErrUnknownAlias    = errors.New("secret alias not found")
)

// secrets and rotation
var (
	ErrInvalidSecret   = errors.New("invalid secret")
	ErrNoSecret        = errors.New("no secret available")
	ErrUnknownKeyID    = errors.New("unknown key id")
	ErrRotationTimeout = errors.New("edge key propagation timed out")
	ErrRotationState   = errors.New("invalid rotation state")
)

// risk scoring
var (
	ErrQueryFailed = errors.New("risk query failed")
)
