package util

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/mediashield/go-secure-media-server/types"
)

// CanonicalIP classifies addr as IPv4 or IPv6 and returns the form used for signing.
// IPv6 addresses are expanded to eight zero padded lower-case hextets so that any valid
// abbreviation of the same address produces identical bytes.
func CanonicalIP(addr string) (int, string, error) {
	addr = strings.TrimSpace(addr)
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %s", types.ErrInvalidIP, addr)
	}
	if ip.Zone() != "" {
		return 0, "", fmt.Errorf("%w: zoned address %s", types.ErrInvalidIP, addr)
	}
	if ip.Is4() {
		return 4, ip.String(), nil
	}
	return 6, ExpandIPv6(ip), nil
}

// ExpandIPv6 renders all 16 bytes as 8 hextets, e.g. 2001:0db8:0000:0000:0000:0000:0000:0001
func ExpandIPv6(ip netip.Addr) string {
	b := ip.As16()
	var sb strings.Builder
	sb.Grow(39)
	for i := 0; i < 16; i += 2 {
		if i > 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%02x%02x", b[i], b[i+1])
	}
	return sb.String()
}

// StripPort removes the trailing ":port" from a viewer address such as "1.2.3.4:5678",
// "[2001:db8::1]:5678" or "2001:db8::1:5678". The address must carry a port.
func StripPort(address string) string {
	if ap, err := netip.ParseAddrPort(address); err == nil {
		return ap.Addr().String()
	}
	idx := strings.LastIndex(address, ":")
	if idx < 0 {
		return address
	}
	return address[:idx]
}
