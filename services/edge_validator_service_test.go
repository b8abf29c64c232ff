package services

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/mediashield/go-secure-media-server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestToken(t *testing.T) {
	long := strings.Repeat("a", 30) + "." + strings.Repeat("b", 30) + "." + strings.Repeat("c", 30)

	seg, uri, err := ParseRequestToken("/sid."+long+"/a/b/video.m3u8", 60)
	require.NoError(t, err)
	assert.Equal(t, "sid", seg.SessionID)
	assert.Equal(t, long, seg.Compact)
	assert.Equal(t, "/a/b/video.m3u8", uri)

	cases := []string{
		"/" + long,
		"//a/video.m3u8",
		"/a.b/video.m3u8",
		"/a.b.c.d.e/video.m3u8",
		"/.a.b.c/video.m3u8",
		"/a.b.c/video.m3u8",
	}
	for _, c := range cases {
		_, _, err := ParseRequestToken(c, 60)
		assert.ErrorIs(t, err, types.ErrMalformedToken, c)
	}
}

func TestVerifyRejectsTamperedTokens(t *testing.T) {
	f := newTokenFixture()
	segment := f.issue(t, nil, &types.TokenPolicy{Paths: []string{"/a/"}, Exp: "+1h"})
	ts, err := types.ParseTokenSegment(segment)
	require.NoError(t, err)

	// widen the authorized paths without re-signing
	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"ip":false,"co":false,"reg":false,"cty":false,"ssn":false,"headers":[],"qs":[],"exp":9999999999,"paths":["/"],"exc":[]}`))
	_, err = f.verify(ts.Header+"."+forged+"."+ts.Signature, "/b/video.m3u8", nil)
	assert.ErrorIs(t, err, types.ErrSignatureInvalid)

	sig := []byte(ts.Signature)
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	_, err = f.verify(ts.Header+"."+ts.Payload+"."+string(sig), "/a/video.m3u8", nil)
	assert.ErrorIs(t, err, types.ErrSignatureInvalid)

	_, err = f.verify(ts.Header+".!!!notbase64!!!."+ts.Signature, "/a/video.m3u8", nil)
	assert.ErrorIs(t, err, types.ErrMalformedToken)
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	f := newTokenFixture()
	segment := f.issue(t, nil, &types.TokenPolicy{Paths: []string{"/a/"}, Exp: "+1h"})
	ts, _ := types.ParseTokenSegment(segment)

	for _, alg := range []string{"none", "HS512", "RS256"} {
		header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"` + alg + `","kid":"20240101_primary"}`))
		_, err := f.verify(header+"."+ts.Payload+"."+ts.Signature, "/a/video.m3u8", nil)
		assert.ErrorIs(t, err, types.ErrUnsupportedAlgorithm, alg)
	}
}

func TestVerifyUnknownKeyID(t *testing.T) {
	f := newTokenFixture()
	segment := f.issue(t, nil, &types.TokenPolicy{Paths: []string{"/a/"}, Exp: "+1h"})
	ts, _ := types.ParseTokenSegment(segment)
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","kid":"20200101_gone"}`))
	_, err := f.verify(header+"."+ts.Payload+"."+ts.Signature, "/a/video.m3u8", nil)
	assert.ErrorIs(t, err, types.ErrSignatureInvalid)
}

func TestVerifyAcceptsSecondaryKey(t *testing.T) {
	f := newTokenFixture()
	segment, err := f.issuer.Generate(context.Background(), nil, "", &types.TokenPolicy{Paths: []string{"/a/"}, Exp: "+1h"}, "secondary")
	require.NoError(t, err)
	_, err = f.verify(segment, "/a/video.m3u8", nil)
	assert.NoError(t, err)
}

func TestVerifyWithEdgeKeySet(t *testing.T) {
	f := newTokenFixture()
	store := newMemSecretStore()
	edgeKeys := NewEdgeKeyService(store, "test", 0, 0)
	primary, err := f.keyRing.Get(context.Background(), types.SecretRolePrimary)
	require.NoError(t, err)
	require.NoError(t, edgeKeys.Publish(context.Background(), primary, types.PlaceholderSecret()))

	validator := NewEdgeValidator(edgeKeys, testEdgeConfig())
	validator.now = f.validator.now
	segment := f.issue(t, nil, &types.TokenPolicy{Paths: []string{"/a/"}, Exp: "+1h"})
	uri, err := validator.Verify(context.Background(), &types.EdgeRequest{URI: "/" + segment + "/a/x.ts"})
	require.NoError(t, err)
	assert.Equal(t, "/a/x.ts", uri)

	segment, err = f.issuer.Generate(context.Background(), nil, "", &types.TokenPolicy{Paths: []string{"/a/"}, Exp: "+1h"}, "secondary")
	require.NoError(t, err)
	_, err = validator.Verify(context.Background(), &types.EdgeRequest{URI: "/" + segment + "/a/x.ts"})
	assert.ErrorIs(t, err, types.ErrSignatureInvalid)
}

func TestVerifyRejectsDotSegments(t *testing.T) {
	f := newTokenFixture()
	segment := f.issue(t, nil, &types.TokenPolicy{Paths: []string{"/live/"}, Exc: []string{"/live/public/"}, Exp: "+1h"})

	uri, err := f.verify(segment, "/live/master.m3u8", nil)
	require.NoError(t, err)
	assert.Equal(t, "/live/master.m3u8", uri)

	for _, p := range []string{
		"/live/../private/master.m3u8",
		"/live/public/../../private/master.m3u8",
		"/live/%2e%2e/private/master.m3u8",
		"/live/%252e%252e/private/master.m3u8",
		"/live/.%2E/private/master.m3u8",
		"/live/..%2fprivate/master.m3u8",
		"/live/..\\private/master.m3u8",
		"/live/./master.m3u8",
	} {
		_, err := f.verify(segment, p, nil)
		assert.ErrorIs(t, err, types.ErrPathMismatch, p)
	}
}

func TestHasDotSegment(t *testing.T) {
	assert.False(t, hasDotSegment("/live/chunk.1.ts"))
	assert.False(t, hasDotSegment("/live/...m3u8"))
	assert.False(t, hasDotSegment("/live/a..b/x.ts"))
	assert.True(t, hasDotSegment("/live/.."))
	assert.True(t, hasDotSegment("/./live"))
	assert.True(t, hasDotSegment("/live/%2E/x"))
}
