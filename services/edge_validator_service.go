package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/types"
	"github.com/mediashield/go-secure-media-server/util"
)

// VerificationKeySource resolves a token key id to its secret value.
type VerificationKeySource interface {
	VerificationKey(ctx context.Context, kid string) (string, error)
}

// EdgeValidator verifies the token carried in the first path segment of a request.
// It keeps no state besides its key source and is safe for concurrent use.
type EdgeValidator struct {
	keys           VerificationKeySource
	minTokenLength int
	countryHeader  string
	regionHeader   string
	cityHeader     string
	now            func() time.Time
}

func NewEdgeValidator(keys VerificationKeySource, conf global.EdgeConfig) *EdgeValidator {
	return &EdgeValidator{
		keys:           keys,
		minTokenLength: conf.MinTokenLength,
		countryHeader:  strings.ToLower(conf.CountryHeader),
		regionHeader:   strings.ToLower(conf.RegionHeader),
		cityHeader:     strings.ToLower(conf.CityHeader),
		now:            time.Now,
	}
}

// ParseRequestToken splits the token segment off uri and returns it with the upstream uri.
func ParseRequestToken(uri string, minTokenLength int) (*types.TokenSegment, string, error) {
	pathArray := strings.Split(uri, "/")
	if len(pathArray) < 3 || pathArray[1] == "" {
		return nil, "", fmt.Errorf("%w: no token in path", types.ErrMalformedToken)
	}
	segment, err := types.ParseTokenSegment(pathArray[1])
	if err != nil {
		return nil, "", err
	}
	if len(segment.Compact) < minTokenLength {
		return nil, "", fmt.Errorf("%w: token shorter than %d", types.ErrMalformedToken, minTokenLength)
	}
	upstream := strings.Join(append([]string{pathArray[0]}, pathArray[2:]...), "/")
	return segment, upstream, nil
}

// Verify returns the upstream uri with the token segment removed, or the reason for rejection.
// Callers must not expose the reason to the viewer.
func (ev *EdgeValidator) Verify(ctx context.Context, req *types.EdgeRequest) (string, error) {
	segment, uri, err := ParseRequestToken(req.URI, ev.minTokenLength)
	if err != nil {
		return "", err
	}

	var header types.TokenHeader
	if err := decodeSegment(segment.Header, &header); err != nil {
		return "", err
	}
	var claims types.TokenClaims
	if err := decodeSegment(segment.Payload, &claims); err != nil {
		return "", err
	}
	if header.Alg != jwa.HS256.String() {
		return "", fmt.Errorf("%w: %q", types.ErrUnsupportedAlgorithm, header.Alg)
	}
	key, err := ev.keys.VerificationKey(ctx, header.Kid)
	if err != nil {
		if errors.Is(err, types.ErrUnknownKeyID) {
			return "", fmt.Errorf("%w: %v", types.ErrSignatureInvalid, err)
		}
		return "", err
	}
	if _, err := jws.Verify([]byte(segment.Compact), jws.WithKey(jwa.HS256, []byte(key))); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrSignatureInvalid, err)
	}
	if err := claims.Validate(); err != nil {
		return "", err
	}

	now := ev.now().Unix()
	if now > claims.Exp {
		return "", fmt.Errorf("%w: exp %d", types.ErrTokenExpired, claims.Exp)
	}
	if claims.Nbf > 0 && now < claims.Nbf {
		return "", fmt.Errorf("%w: nbf %d", types.ErrTokenNotYetValid, claims.Nbf)
	}

	// prefixes are compared on the raw uri, so it must not be able to climb out of them
	if hasDotSegment(uri) {
		return "", fmt.Errorf("%w: dot segment in %s", types.ErrPathMismatch, uri)
	}
	for _, prefix := range claims.Exc {
		if strings.HasPrefix(uri, prefix) {
			return uri, nil
		}
	}
	if !matchesAnyPrefix(uri, claims.Paths) {
		return "", fmt.Errorf("%w: %s", types.ErrPathMismatch, uri)
	}

	input, skip, err := ev.intsigInput(req, segment, &claims)
	if err != nil {
		return "", err
	}
	if skip || input == "" {
		return uri, nil
	}
	if claims.IntSig == "" || !util.VerifyHmacSHA256(input, key, claims.IntSig) {
		return "", fmt.Errorf("%w: indirect signature mismatch", types.ErrSignatureInvalid)
	}
	return uri, nil
}

// intsigInput rebuilds the indirect signature input from the live request in issuance order.
// skip is true when a bound geo attribute is missing and its fallback flag accepts that.
func (ev *EdgeValidator) intsigInput(req *types.EdgeRequest, segment *types.TokenSegment, claims *types.TokenClaims) (string, bool, error) {
	parts := []string{}
	headers := util.LowerKeys(req.Headers)

	if claims.IP {
		if req.ViewerIP == "" {
			return "", false, fmt.Errorf("%w: viewer ip missing", types.ErrSignatureInvalid)
		}
		version, canonical, err := util.CanonicalIP(req.ViewerIP)
		if err != nil {
			return "", false, fmt.Errorf("%w: %v", types.ErrSignatureInvalid, err)
		}
		if version != claims.IPVersion {
			return "", false, fmt.Errorf("%w: viewer ip version %d, token ip_ver %d", types.ErrSignatureInvalid, version, claims.IPVersion)
		}
		parts = append(parts, canonical)
	}

	geo := []struct {
		name     string
		bound    bool
		fallback bool
		header   string
	}{
		{"country", claims.Country, claims.CountryFallback, ev.countryHeader},
		{"region", claims.Region, claims.RegionFallback, ev.regionHeader},
		{"city", claims.City, claims.CityFallback, ev.cityHeader},
	}
	for _, g := range geo {
		if !g.bound {
			continue
		}
		v := headers[g.header]
		if v != "" {
			parts = append(parts, v)
			continue
		}
		if g.fallback {
			level.Debug(global.Logger).Log("msg", "viewer geo header missing, fallback set", "attribute", g.name)
			return "", true, nil
		}
		return "", false, fmt.Errorf("%w: %s header missing", types.ErrSignatureInvalid, g.header)
	}

	if claims.Session {
		if segment.SessionID == "" {
			return "", false, fmt.Errorf("%w: session id missing", types.ErrSignatureInvalid)
		}
		parts = append(parts, segment.SessionID)
	}
	for _, h := range claims.Headers {
		if v := headers[strings.ToLower(h)]; v != "" {
			parts = append(parts, v)
		}
	}
	for _, q := range claims.QueryStrings {
		if v := req.QueryStrings[q]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, intsigDelimiter), false, nil
}

func decodeSegment(segment string, v interface{}) error {
	raw, err := util.DecodeURLBase64(segment)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedToken, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedToken, err)
	}
	return nil
}

// hasDotSegment reports whether uri holds a "." or ".." segment, also percent-encoded
// (repeatedly) or separated by backslashes.
func hasDotSegment(uri string) bool {
	segments := strings.FieldsFunc(uri, func(r rune) bool { return r == '/' || r == '\\' })
	for _, seg := range segments {
		for i := 0; i < 3 && strings.Contains(seg, "%"); i++ {
			decoded, err := url.PathUnescape(seg)
			if err != nil {
				break
			}
			seg = decoded
		}
		if seg == "." || seg == ".." || (strings.ContainsAny(seg, "/\\") && hasDotSegment(seg)) {
			return true
		}
	}
	return false
}

func matchesAnyPrefix(uri string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(uri, p) {
			return true
		}
	}
	return false
}
