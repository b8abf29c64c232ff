package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/types"
	"github.com/mediashield/go-secure-media-server/util"
)

const (
	defaultSessionLength = 12
	minSessionLength     = 7
	intsigDelimiter      = ":"
)

var sessionIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// KeySetProvider returns the current primary/secondary secrets.
type KeySetProvider interface {
	KeySet(ctx context.Context) (*types.KeySet, error)
}

// TokenService issues signed playback tokens.
type TokenService struct {
	keys KeySetProvider
	now  func() time.Time
}

func NewTokenService(keys KeySetProvider) *TokenService {
	return &TokenService{keys: keys, now: time.Now}
}

// Generate signs a token for the viewer under policy with the secret registered as alias
// ("primary" when empty). With a playbackURL the token is spliced in as the first path segment
// and the full url is returned, otherwise the bare [sessionId.]token segment.
func (ts *TokenService) Generate(ctx context.Context, attrs *types.ViewerAttributes, playbackURL string, policy *types.TokenPolicy, alias string) (string, error) {
	if policy == nil {
		return "", fmt.Errorf("%w: missing token policy", types.ErrPolicyViolation)
	}
	if attrs == nil {
		attrs = &types.ViewerAttributes{}
	}
	if alias == "" {
		alias = string(types.SecretRolePrimary)
	}
	ks, err := ts.keys.KeySet(ctx)
	if err != nil {
		return "", err
	}
	secret, ok := ks.ByAlias(alias)
	if !ok {
		return "", fmt.Errorf("%w: %s", types.ErrUnknownAlias, alias)
	}

	var target *url.URL
	query := url.Values{}
	if playbackURL != "" {
		target, err = url.Parse(playbackURL)
		if err != nil || target.Host == "" {
			return "", fmt.Errorf("%w: invalid playback url %q", types.ErrBadRequest, playbackURL)
		}
		query = target.Query()
	}

	claims, sessionID, err := ts.buildClaims(attrs, policy, query, secret.Value)
	if err != nil {
		return "", err
	}
	compact, err := signClaims(claims, secret)
	if err != nil {
		return "", err
	}
	segment := (&types.TokenSegment{SessionID: sessionID, Compact: compact}).String()
	if target == nil {
		return segment, nil
	}
	target.Path = "/" + segment + target.Path
	if target.RawPath != "" {
		target.RawPath = "/" + segment + target.RawPath
	}
	return target.String(), nil
}

func (ts *TokenService) buildClaims(attrs *types.ViewerAttributes, policy *types.TokenPolicy, query url.Values, key string) (*types.TokenClaims, string, error) {
	claims := &types.TokenClaims{
		Headers:      []string{},
		QueryStrings: []string{},
		Paths:        append([]string{}, policy.Paths...),
		Exc:          append([]string{}, policy.Exc...),
	}
	if len(claims.Paths) == 0 && len(claims.Exc) == 0 {
		return nil, "", fmt.Errorf("%w: policy authorizes no path", types.ErrPolicyViolation)
	}

	now := ts.now()
	exp, err := ParseExpiry(policy.Exp, now)
	if err != nil {
		return nil, "", err
	}
	claims.Exp = exp
	if policy.Nbf != "" {
		nbf, err := strconv.ParseInt(policy.Nbf, 10, 64)
		if err != nil || nbf < 0 {
			return nil, "", fmt.Errorf("%w: invalid nbf %q", types.ErrPolicyViolation, policy.Nbf)
		}
		claims.Nbf = nbf
	}

	parts := []string{}
	if policy.IP {
		if attrs.IP == "" {
			return nil, "", fmt.Errorf("%w: viewer ip required", types.ErrPolicyViolation)
		}
		version, canonical, err := util.CanonicalIP(attrs.IP)
		if err != nil {
			return nil, "", err
		}
		claims.IP = true
		claims.IPVersion = version
		parts = append(parts, canonical)
	}

	geo := []struct {
		name     string
		required bool
		fallback bool
		value    string
		bound    *bool
		flag     *bool
	}{
		{"country", policy.Country, policy.CountryFallback, attrs.Country, &claims.Country, &claims.CountryFallback},
		{"region", policy.Region, policy.RegionFallback, attrs.Region, &claims.Region, &claims.RegionFallback},
		{"city", policy.City, policy.CityFallback, attrs.City, &claims.City, &claims.CityFallback},
	}
	for _, g := range geo {
		if !g.required {
			continue
		}
		if g.value == "" {
			if !g.fallback {
				return nil, "", fmt.Errorf("%w: viewer %s required", types.ErrPolicyViolation, g.name)
			}
			// unknown at issuance, the token is not bound to it
			level.Debug(global.Logger).Log("msg", "geo attribute unavailable, fallback accepted", "attribute", g.name)
			continue
		}
		*g.bound = true
		*g.flag = g.fallback
		parts = append(parts, g.value)
	}

	sessionID := ""
	if policy.Session {
		sessionID = attrs.SessionID
		if sessionID == "" {
			sessionID, err = newSessionID(policy.SessionAutoGenerate)
			if err != nil {
				return nil, "", err
			}
		} else if !sessionIDRegex.MatchString(sessionID) {
			return nil, "", fmt.Errorf("%w: invalid session id", types.ErrPolicyViolation)
		}
		claims.Session = true
		parts = append(parts, sessionID)
	}

	headers := util.LowerKeys(attrs.Headers)
	for _, h := range policy.Headers {
		name := strings.ToLower(h)
		claims.Headers = append(claims.Headers, name)
		if v := headers[name]; v != "" {
			parts = append(parts, v)
		}
	}
	for _, q := range policy.QueryStrings {
		claims.QueryStrings = append(claims.QueryStrings, q)
		v := query.Get(q)
		if v == "" {
			v = attrs.QueryStrings[q]
		}
		if v != "" {
			parts = append(parts, v)
		}
	}

	if len(parts) > 0 {
		claims.IntSig = util.SignHmacSHA256(strings.Join(parts, intsigDelimiter), key)
	}
	return claims, sessionID, nil
}

func newSessionID(length int) (string, error) {
	switch {
	case length == 0:
		length = defaultSessionLength
	case length < minSessionLength:
		return "", fmt.Errorf("%w: session_auto_generate must be greater than 6", types.ErrPolicyViolation)
	}
	return util.RandomAlphanumeric(length)
}

// ParseExpiry resolves "+<n>h", "+<n>m" or an absolute epoch into unix seconds.
func ParseExpiry(exp string, now time.Time) (int64, error) {
	if strings.HasPrefix(exp, "+") {
		if len(exp) < 3 {
			return 0, fmt.Errorf("%w: %q", types.ErrInvalidExpiry, exp)
		}
		n, err := strconv.ParseInt(exp[1:len(exp)-1], 10, 64)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("%w: %q", types.ErrInvalidExpiry, exp)
		}
		switch exp[len(exp)-1] {
		case 'h':
			return now.Add(time.Duration(n) * time.Hour).Unix(), nil
		case 'm':
			return now.Add(time.Duration(n) * time.Minute).Unix(), nil
		}
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidExpiry, exp)
	}
	n, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidExpiry, exp)
	}
	return n, nil
}

// signClaims returns the compact HS256 JWS of claims with the secret id as kid.
func signClaims(claims *types.TokenClaims, secret *types.Secret) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.KeyIDKey, secret.ID); err != nil {
		return "", err
	}
	if err := hdrs.Set(jws.TypeKey, "JWT"); err != nil {
		return "", err
	}
	signed, err := jws.Sign(payload, jws.WithKey(jwa.HS256, []byte(secret.Value), jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}
