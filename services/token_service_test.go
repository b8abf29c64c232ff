package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mediashield/go-secure-media-server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type tokenFixture struct {
	keyRing   *KeyRingService
	issuer    *TokenService
	validator *EdgeValidator
}

func newTokenFixture() *tokenFixture {
	keyRing, _ := newTestKeyRing()
	issuer := NewTokenService(keyRing)
	issuer.now = func() time.Time { return testNow }
	validator := NewEdgeValidator(NewKeySetVerifier(keyRing), testEdgeConfig())
	validator.now = func() time.Time { return testNow.Add(time.Minute) }
	return &tokenFixture{keyRing: keyRing, issuer: issuer, validator: validator}
}

func (f *tokenFixture) issue(t *testing.T, attrs *types.ViewerAttributes, policy *types.TokenPolicy) string {
	segment, err := f.issuer.Generate(context.Background(), attrs, "", policy, "")
	require.NoError(t, err)
	return segment
}

func (f *tokenFixture) verify(segment, path string, req *types.EdgeRequest) (string, error) {
	if req == nil {
		req = &types.EdgeRequest{}
	}
	req.URI = "/" + segment + path
	return f.validator.Verify(context.Background(), req)
}

func decodeClaims(t *testing.T, segment string) *types.TokenClaims {
	ts, err := types.ParseTokenSegment(segment)
	require.NoError(t, err)
	raw, err := base64.RawURLEncoding.DecodeString(ts.Payload)
	require.NoError(t, err)
	var claims types.TokenClaims
	require.NoError(t, json.Unmarshal(raw, &claims))
	return &claims
}

func TestEndToEndPathBinding(t *testing.T) {
	f := newTokenFixture()
	segment := f.issue(t, nil, &types.TokenPolicy{Paths: []string{"/a/"}, Exp: "+1h"})

	uri, err := f.verify(segment, "/a/video.m3u8", nil)
	require.NoError(t, err)
	assert.Equal(t, "/a/video.m3u8", uri)

	_, err = f.verify(segment, "/b/video.m3u8", nil)
	assert.ErrorIs(t, err, types.ErrPathMismatch)
}

func TestGenerateSplicesTokenIntoPlaybackURL(t *testing.T) {
	f := newTokenFixture()
	out, err := f.issuer.Generate(context.Background(), nil, "https://cdn.example.com/a/index.m3u8?lang=en", &types.TokenPolicy{Paths: []string{"/a/"}, Exp: "+1h"}, "")
	require.NoError(t, err)

	u, err := url.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "cdn.example.com", u.Host)
	assert.Equal(t, "lang=en", u.RawQuery)
	parts := strings.SplitN(u.Path, "/", 3)
	require.Len(t, parts, 3)
	assert.Equal(t, "a/index.m3u8", parts[2])

	uri, err := f.verify(parts[1], "/a/index.m3u8", nil)
	require.NoError(t, err)
	assert.Equal(t, "/a/index.m3u8", uri)
}

func TestGenerateHeaderCarriesKeyID(t *testing.T) {
	f := newTokenFixture()
	segment := f.issue(t, nil, &types.TokenPolicy{Paths: []string{"/"}, Exp: "+1h"})
	ts, err := types.ParseTokenSegment(segment)
	require.NoError(t, err)
	raw, err := base64.RawURLEncoding.DecodeString(ts.Header)
	require.NoError(t, err)
	var header types.TokenHeader
	require.NoError(t, json.Unmarshal(raw, &header))
	assert.Equal(t, "HS256", header.Alg)
	assert.Equal(t, "20240101_primary", header.Kid)

	segment, err = f.issuer.Generate(context.Background(), nil, "", &types.TokenPolicy{Paths: []string{"/"}, Exp: "+1h"}, "secondary")
	require.NoError(t, err)
	ts, _ = types.ParseTokenSegment(segment)
	raw, _ = base64.RawURLEncoding.DecodeString(ts.Header)
	require.NoError(t, json.Unmarshal(raw, &header))
	assert.Equal(t, "20231201_secondary", header.Kid)

	_, err = f.issuer.Generate(context.Background(), nil, "", &types.TokenPolicy{Paths: []string{"/"}, Exp: "+1h"}, "temporary")
	assert.ErrorIs(t, err, types.ErrUnknownAlias)
}

func TestExpiryAndNotBefore(t *testing.T) {
	f := newTokenFixture()
	expired := f.issue(t, nil, &types.TokenPolicy{Paths: []string{"/a/"}, Exp: "+1m"})
	f.validator.now = func() time.Time { return testNow.Add(2 * time.Minute) }
	_, err := f.verify(expired, "/a/x.ts", nil)
	assert.ErrorIs(t, err, types.ErrTokenExpired)

	f.validator.now = func() time.Time { return testNow.Add(time.Minute) }
	nbf := strconv.FormatInt(testNow.Add(time.Hour).Unix(), 10)
	future := f.issue(t, nil, &types.TokenPolicy{Paths: []string{"/a/"}, Exp: "+2h", Nbf: nbf})
	_, err = f.verify(future, "/a/x.ts", nil)
	assert.ErrorIs(t, err, types.ErrTokenNotYetValid)

	f.validator.now = func() time.Time { return testNow.Add(90 * time.Minute) }
	_, err = f.verify(future, "/a/x.ts", nil)
	assert.NoError(t, err)
}

func TestExclusionShortCircuits(t *testing.T) {
	f := newTokenFixture()
	policy := &types.TokenPolicy{
		IP: true, Country: true, Session: true,
		Headers: []string{"user-agent"},
		Paths:   []string{"/a/"},
		Exc:     []string{"/a/public/"},
		Exp:     "+1h",
	}
	attrs := &types.ViewerAttributes{IP: "10.0.0.1", Country: "DE", Headers: map[string]string{"User-Agent": "player/1.0"}}
	segment := f.issue(t, attrs, policy)
	ts, err := types.ParseTokenSegment(segment)
	require.NoError(t, err)

	// no ip, no geo header, no session prefix
	uri, err := f.verify(ts.Compact, "/a/public/poster.jpg", nil)
	require.NoError(t, err)
	assert.Equal(t, "/a/public/poster.jpg", uri)

	_, err = f.verify(ts.Compact, "/a/video.m3u8", nil)
	assert.ErrorIs(t, err, types.ErrSignatureInvalid)
}

func TestBoundAttributeChangesFailVerification(t *testing.T) {
	f := newTokenFixture()
	policy := &types.TokenPolicy{
		IP: true, Country: true, Region: true, City: true, Session: true,
		Headers:      []string{"User-Agent", "Referer"},
		QueryStrings: []string{"device"},
		Paths:        []string{"/a/"},
		Exp:          "+1h",
	}
	attrs := &types.ViewerAttributes{
		IP: "203.0.113.7", Country: "DE", Region: "BE", City: "Berlin", SessionID: "sess42abc",
		Headers:      map[string]string{"user-agent": "player/1.0", "referer": "https://example.com/"},
		QueryStrings: map[string]string{"device": "tv"},
	}
	segment := f.issue(t, attrs, policy)
	assert.True(t, strings.HasPrefix(segment, "sess42abc."))

	baseline := func() *types.EdgeRequest {
		return &types.EdgeRequest{
			ViewerIP: "203.0.113.7",
			Headers: map[string]string{
				"cloudfront-viewer-country":        "DE",
				"cloudfront-viewer-country-region": "BE",
				"cloudfront-viewer-city":           "Berlin",
				"user-agent":                       "player/1.0",
				"referer":                          "https://example.com/",
			},
			QueryStrings: map[string]string{"device": "tv"},
		}
	}
	uri, err := f.verify(segment, "/a/seg1.ts", baseline())
	require.NoError(t, err)
	assert.Equal(t, "/a/seg1.ts", uri)

	mutations := map[string]func(r *types.EdgeRequest){
		"ip":      func(r *types.EdgeRequest) { r.ViewerIP = "203.0.113.8" },
		"ua":      func(r *types.EdgeRequest) { r.Headers["user-agent"] = "curl/8.0" },
		"referer": func(r *types.EdgeRequest) { r.Headers["referer"] = "https://evil.example/" },
		"country": func(r *types.EdgeRequest) { r.Headers["cloudfront-viewer-country"] = "FR" },
		"region":  func(r *types.EdgeRequest) { r.Headers["cloudfront-viewer-country-region"] = "HH" },
		"city":    func(r *types.EdgeRequest) { r.Headers["cloudfront-viewer-city"] = "Hamburg" },
		"qs":      func(r *types.EdgeRequest) { r.QueryStrings["device"] = "phone" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			req := baseline()
			mutate(req)
			_, err := f.verify(segment, "/a/seg1.ts", req)
			assert.ErrorIs(t, err, types.ErrSignatureInvalid)
		})
	}

	t.Run("session", func(t *testing.T) {
		swapped := "other99xyz" + strings.TrimPrefix(segment, "sess42abc")
		_, err := f.verify(swapped, "/a/seg1.ts", baseline())
		assert.ErrorIs(t, err, types.ErrSignatureInvalid)
	})
}

func TestIPv6AbbreviationsVerifyIdentically(t *testing.T) {
	f := newTokenFixture()
	policy := &types.TokenPolicy{IP: true, Paths: []string{"/"}, Exp: "+1h"}
	segment := f.issue(t, &types.ViewerAttributes{IP: "2001:db8::ff00:42:8329"}, policy)
	claims := decodeClaims(t, segment)
	assert.Equal(t, 6, claims.IPVersion)

	for _, ip := range []string{
		"2001:0db8:0000:0000:0000:ff00:0042:8329",
		"2001:db8:0:0:0:ff00:42:8329",
		"2001:DB8::FF00:42:8329",
	} {
		_, err := f.verify(segment, "/v/x.ts", &types.EdgeRequest{ViewerIP: ip})
		assert.NoError(t, err, ip)
	}
	_, err := f.verify(segment, "/v/x.ts", &types.EdgeRequest{ViewerIP: "203.0.113.7"})
	assert.ErrorIs(t, err, types.ErrSignatureInvalid)
}

func TestGeoFallback(t *testing.T) {
	f := newTokenFixture()
	policy := &types.TokenPolicy{Country: true, CountryFallback: true, Region: true, Paths: []string{"/"}, Exp: "+1h"}
	segment := f.issue(t, &types.ViewerAttributes{Country: "US", Region: "WA"}, policy)

	// country header gone at the edge, fallback accepts it
	_, err := f.verify(segment, "/v/x.ts", &types.EdgeRequest{Headers: map[string]string{}})
	assert.NoError(t, err)

	// region has no fallback
	noFallback := f.issue(t, &types.ViewerAttributes{Country: "US", Region: "WA"}, &types.TokenPolicy{Region: true, Paths: []string{"/"}, Exp: "+1h"})
	_, err = f.verify(noFallback, "/v/x.ts", &types.EdgeRequest{Headers: map[string]string{}})
	assert.ErrorIs(t, err, types.ErrSignatureInvalid)

	_, err = f.issuer.Generate(context.Background(), &types.ViewerAttributes{}, "", &types.TokenPolicy{Region: true, Paths: []string{"/"}, Exp: "+1h"}, "")
	assert.ErrorIs(t, err, types.ErrPolicyViolation)

	segment = f.issue(t, &types.ViewerAttributes{}, &types.TokenPolicy{City: true, CityFallback: true, Paths: []string{"/"}, Exp: "+1h"})
	assert.False(t, decodeClaims(t, segment).City)
}

func TestSessionAutoGenerate(t *testing.T) {
	f := newTokenFixture()
	segment := f.issue(t, nil, &types.TokenPolicy{Session: true, Paths: []string{"/"}, Exp: "+1h"})
	ts, err := types.ParseTokenSegment(segment)
	require.NoError(t, err)
	assert.Len(t, ts.SessionID, 12)

	segment = f.issue(t, nil, &types.TokenPolicy{Session: true, SessionAutoGenerate: 20, Paths: []string{"/"}, Exp: "+1h"})
	ts, _ = types.ParseTokenSegment(segment)
	assert.Len(t, ts.SessionID, 20)

	_, err = f.issuer.Generate(context.Background(), nil, "", &types.TokenPolicy{Session: true, SessionAutoGenerate: 5, Paths: []string{"/"}, Exp: "+1h"}, "")
	assert.ErrorIs(t, err, types.ErrPolicyViolation)

	// session bound token without its prefix
	_, err = f.verify(ts.Compact, "/v/x.ts", nil)
	assert.ErrorIs(t, err, types.ErrSignatureInvalid)
}

func TestGenerateRejectsInvalidInput(t *testing.T) {
	f := newTokenFixture()
	_, err := f.issuer.Generate(context.Background(), nil, "", &types.TokenPolicy{Paths: []string{"/"}, Exp: "1h"}, "")
	assert.ErrorIs(t, err, types.ErrInvalidExpiry)

	_, err = f.issuer.Generate(context.Background(), nil, "", &types.TokenPolicy{Exp: "+1h"}, "")
	assert.ErrorIs(t, err, types.ErrPolicyViolation)

	_, err = f.issuer.Generate(context.Background(), &types.ViewerAttributes{IP: "not-an-ip"}, "", &types.TokenPolicy{IP: true, Paths: []string{"/"}, Exp: "+1h"}, "")
	assert.ErrorIs(t, err, types.ErrInvalidIP)

	_, err = f.issuer.Generate(context.Background(), nil, "", &types.TokenPolicy{IP: true, Paths: []string{"/"}, Exp: "+1h"}, "")
	assert.ErrorIs(t, err, types.ErrPolicyViolation)
}

func TestParseExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	cases := []struct {
		in   string
		want int64
		err  bool
	}{
		{"+1h", 4600, false},
		{"+15m", 1900, false},
		{"1700000000", 1700000000, false},
		{"+1d", 0, true},
		{"+h", 0, true},
		{"+-5m", 0, true},
		{"0", 0, true},
		{"", 0, true},
		{"tomorrow", 0, true},
	}
	for _, c := range cases {
		got, err := ParseExpiry(c.in, now)
		if c.err {
			assert.ErrorIs(t, err, types.ErrInvalidExpiry, c.in)
			continue
		}
		assert.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}
