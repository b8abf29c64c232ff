package types

import (
	"fmt"
	"strings"
)

// TokenPolicy declares what a token binds to and where it is valid. It is stored per asset.
type TokenPolicy struct {
	IP                  bool     `json:"ip" dynamodbav:"ip"`
	Country             bool     `json:"co" dynamodbav:"co"`
	CountryFallback     bool     `json:"co_fallback" dynamodbav:"co_fallback"`
	Region              bool     `json:"reg" dynamodbav:"reg"`
	RegionFallback      bool     `json:"reg_fallback" dynamodbav:"reg_fallback"`
	City                bool     `json:"cty" dynamodbav:"cty"`
	CityFallback        bool     `json:"cty_fallback" dynamodbav:"cty_fallback"`
	Session             bool     `json:"ssn" dynamodbav:"ssn"`
	SessionAutoGenerate int      `json:"session_auto_generate,omitempty" dynamodbav:"session_auto_generate,omitempty"`
	Headers             []string `json:"headers,omitempty" dynamodbav:"headers,omitempty"`
	QueryStrings        []string `json:"querystrings,omitempty" dynamodbav:"querystrings,omitempty"`
	// "+<n>h", "+<n>m" or an absolute epoch in seconds
	Exp   string   `json:"exp" dynamodbav:"exp" validate:"required"`
	Nbf   string   `json:"nbf,omitempty" dynamodbav:"nbf,omitempty"`
	Paths []string `json:"paths" dynamodbav:"paths"`
	Exc   []string `json:"exc,omitempty" dynamodbav:"exc,omitempty"`
}

// TokenHeader is the JOSE header of a playback token.
type TokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Typ string `json:"typ,omitempty"`
}

// TokenClaims is the signed payload. Bound attribute values never appear here, only flags
// and the indirect signature over them.
type TokenClaims struct {
	IP              bool     `json:"ip"`
	IPVersion       int      `json:"ip_ver,omitempty"`
	Country         bool     `json:"co"`
	CountryFallback bool     `json:"co_fallback,omitempty"`
	Region          bool     `json:"reg"`
	RegionFallback  bool     `json:"reg_fallback,omitempty"`
	City            bool     `json:"cty"`
	CityFallback    bool     `json:"cty_fallback,omitempty"`
	Session         bool     `json:"ssn"`
	Headers         []string `json:"headers"`
	QueryStrings    []string `json:"qs"`
	IntSig          string   `json:"intsig,omitempty"`
	Exp             int64    `json:"exp"`
	Nbf             int64    `json:"nbf,omitempty"`
	Paths           []string `json:"paths"`
	Exc             []string `json:"exc"`
}

// Validate checks the structural invariants of decoded claims.
func (c *TokenClaims) Validate() error {
	if c.Exp <= 0 {
		return fmt.Errorf("%w: missing exp", ErrMalformedToken)
	}
	if c.Nbf < 0 {
		return fmt.Errorf("%w: negative nbf", ErrMalformedToken)
	}
	if c.IP && c.IPVersion != 4 && c.IPVersion != 6 {
		return fmt.Errorf("%w: ip_ver must be 4 or 6, got %d", ErrMalformedToken, c.IPVersion)
	}
	if len(c.Paths) == 0 && len(c.Exc) == 0 {
		return fmt.Errorf("%w: token authorizes no path", ErrMalformedToken)
	}
	if c.Session && c.IntSig == "" {
		return fmt.Errorf("%w: session bound without intsig", ErrMalformedToken)
	}
	return nil
}

// TokenSegment is the first path segment of a playback URL: [sessionId.]header.payload.signature
type TokenSegment struct {
	SessionID string
	Compact   string
	Header    string
	Payload   string
	Signature string
}

// ParseTokenSegment splits a path segment into its parts. Only 3 or 4 dot-separated parts are accepted.
func ParseTokenSegment(segment string) (*TokenSegment, error) {
	parts := strings.Split(segment, ".")
	ts := &TokenSegment{}
	switch len(parts) {
	case 4:
		if parts[0] == "" {
			return nil, fmt.Errorf("%w: empty session id", ErrMalformedToken)
		}
		ts.SessionID = parts[0]
		parts = parts[1:]
	case 3:
	default:
		return nil, fmt.Errorf("%w: expected 3 or 4 segments, got %d", ErrMalformedToken, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: empty segment", ErrMalformedToken)
		}
	}
	ts.Header, ts.Payload, ts.Signature = parts[0], parts[1], parts[2]
	ts.Compact = strings.Join(parts, ".")
	return ts, nil
}

func (ts *TokenSegment) String() string {
	if ts.SessionID != "" {
		return ts.SessionID + "." + ts.Compact
	}
	return ts.Compact
}

// ViewerAttributes are the request-time values a token can be bound to.
// Header and query string keys are lower-case.
type ViewerAttributes struct {
	IP           string            `json:"ip,omitempty"`
	Country      string            `json:"co,omitempty"`
	Region       string            `json:"reg,omitempty"`
	City         string            `json:"cty,omitempty"`
	SessionID    string            `json:"sessionId,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	QueryStrings map[string]string `json:"qs,omitempty"`
}

// EdgeRequest is everything the edge validator looks at. Header keys are lower-case.
type EdgeRequest struct {
	URI          string
	Headers      map[string]string
	QueryStrings map[string]string
	ViewerIP     string
}
