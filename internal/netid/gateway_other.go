//go:build !linux

package netid

import "net/netip"

// DefaultGatewayIP is only implemented on Linux. On other platforms the
// gateway is reported as unknown and must be supplied by the caller.
func DefaultGatewayIP() (netip.Addr, bool) {
	return netip.Addr{}, false
}
