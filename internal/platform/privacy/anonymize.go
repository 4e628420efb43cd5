// Package privacy masks caller identities before they reach logs, traces
// or audit records.
package privacy

import (
	"net/netip"

	"framewise/pkg/requestcontext"
)

// AnonymizeIP truncates an address to its network prefix: /24 for IPv4
// (including IPv4-mapped IPv6) and /48 for IPv6. The sentinel "unknown"
// passes through, and anything that does not parse as an address is
// reported as "invalid" so raw header values never leak.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == requestcontext.UnknownClient {
		return requestcontext.UnknownClient
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap().WithZone("")

	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}
