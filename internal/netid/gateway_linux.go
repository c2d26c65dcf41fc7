//go:build linux

package netid

import (
	"net/netip"
	"os"

	"github.com/vishvananda/netlink"
)

// procRoutePath is the kernel's IPv4 routing table in text form.
const procRoutePath = "/proc/net/route"

// DefaultGatewayIP returns the gateway of the IPv4 default route. It asks
// the kernel over netlink first and falls back to parsing /proc/net/route.
// The second return value is false when no default route exists or the
// routing table is unavailable.
func DefaultGatewayIP() (netip.Addr, bool) {
	if addr, ok := netlinkGateway(); ok {
		return addr, true
	}
	f, err := os.Open(procRoutePath)
	if err != nil {
		return netip.Addr{}, false
	}
	defer f.Close()
	return parseProcRoute(f)
}

// netlinkGateway lists IPv4 routes and returns the gateway of the first
// default route (nil or 0.0.0.0/0 destination).
func netlinkGateway() (netip.Addr, bool) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return netip.Addr{}, false
	}
	for _, route := range routes {
		if route.Dst != nil {
			if ones, _ := route.Dst.Mask.Size(); ones != 0 {
				continue
			}
		}
		if route.Gw == nil {
			continue
		}
		if ip4 := route.Gw.To4(); ip4 != nil {
			return netip.AddrFrom4([4]byte(ip4)), true
		}
	}
	return netip.Addr{}, false
}
