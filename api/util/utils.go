package apiutil

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mediashield/go-secure-media-server/types"
	"github.com/mediashield/go-secure-media-server/util"
)

// EdgeHeaders names the CDN headers carrying viewer address and geo attributes.
type EdgeHeaders struct {
	ViewerAddress string
	Country       string
	Region        string
	City          string
}

func (h EdgeHeaders) names() []string {
	names := []string{}
	for _, n := range []string{h.ViewerAddress, h.Country, h.Region, h.City} {
		if n != "" {
			names = append(names, strings.ToLower(n))
		}
	}
	return names
}

// ViewerResolver reads who is asking from a request. Forwarding headers, the CDN viewer address
// and the geo headers are only honored on connections from a trusted proxy. Everything else is
// resolved to the connection's own address.
type ViewerResolver struct {
	proxies []string
	trusted []netip.Prefix
	headers EdgeHeaders
}

// NewViewerResolver takes trusted proxies as CIDRs or single addresses.
func NewViewerResolver(trustedProxies []string, headers EdgeHeaders) (*ViewerResolver, error) {
	vr := &ViewerResolver{proxies: trustedProxies, headers: headers}
	for _, p := range trustedProxies {
		if strings.Contains(p, "/") {
			prefix, err := netip.ParsePrefix(p)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", p, err)
			}
			vr.trusted = append(vr.trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(p)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", p, err)
		}
		vr.trusted = append(vr.trusted, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return vr, nil
}

// TrustProxies makes the engine's ClientIP follow X-Forwarded-For and X-Real-IP through the same
// trusted proxies, and nothing else. gin trusts every peer unless told otherwise.
func (vr *ViewerResolver) TrustProxies(router *gin.Engine) error {
	return router.SetTrustedProxies(vr.proxies)
}

// TrustedPeer reports whether the connection comes from a trusted proxy.
func (vr *ViewerResolver) TrustedPeer(c *gin.Context) bool {
	addr, err := netip.ParseAddr(c.RemoteIP())
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range vr.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ViewerIP prefers the CDN viewer address header ("ip:port") sent by a trusted proxy, then the
// client ip gin resolves through its trusted proxies.
func (vr *ViewerResolver) ViewerIP(c *gin.Context) string {
	if vr.headers.ViewerAddress != "" && vr.TrustedPeer(c) {
		if address := c.GetHeader(vr.headers.ViewerAddress); address != "" {
			return util.StripPort(address)
		}
	}
	return c.ClientIP()
}

// Headers flattens the request headers under lower-case names. The CDN headers are dropped unless
// a trusted proxy sent them.
func (vr *ViewerResolver) Headers(c *gin.Context) map[string]string {
	headers := LowerHeaders(c.Request.Header)
	if !vr.TrustedPeer(c) {
		for _, name := range vr.headers.names() {
			delete(headers, name)
		}
	}
	return headers
}

// Attributes collects the values a playback token can be bound to from the request.
func (vr *ViewerResolver) Attributes(c *gin.Context) *types.ViewerAttributes {
	headers := vr.Headers(c)
	return &types.ViewerAttributes{
		IP:           vr.ViewerIP(c),
		Country:      headers[strings.ToLower(vr.headers.Country)],
		Region:       headers[strings.ToLower(vr.headers.Region)],
		City:         headers[strings.ToLower(vr.headers.City)],
		Headers:      headers,
		QueryStrings: FirstValues(c.Request.URL.Query()),
	}
}

// LowerHeaders flattens request headers to their first value under lower-case names.
func LowerHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

// FirstValues flattens query parameters to their first value.
func FirstValues(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
