// Package netid probes the local operating environment for the host's
// default network identity: the default gateway address and the default
// non-loopback host address. Both probes are best-effort and report
// absence instead of failing.
package netid

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
)

// DefaultHostIP resolves the local hostname and returns the first address
// that is a syntactically valid, non-loopback IP. The second return value
// is false when the hostname cannot be resolved or only loopback addresses
// come back. This is a best-effort probe, not authoritative network
// configuration.
func DefaultHostIP() (netip.Addr, bool) {
	name, err := os.Hostname()
	if err != nil {
		return netip.Addr{}, false
	}
	addrs, err := net.LookupHost(name)
	if err != nil {
		return netip.Addr{}, false
	}
	return pickHostAddr(addrs)
}

// pickHostAddr selects the first valid non-loopback address from a
// hostname resolution result.
func pickHostAddr(addrs []string) (netip.Addr, bool) {
	for _, s := range addrs {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			continue
		}
		if addr.IsLoopback() {
			continue
		}
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}

// parseProcRoute scans a /proc/net/route style table and returns the
// gateway of the first default route (destination 00000000). The gateway
// column holds the address as a raw 32-bit word in host byte order, so it
// is re-serialized through the native byte order to recover the network
// byte sequence.
func parseProcRoute(r io.Reader) (netip.Addr, bool) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[1] != "00000000" {
			continue
		}
		raw, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			continue
		}
		var b [4]byte
		binary.NativeEndian.PutUint32(b[:], uint32(raw))
		addr := netip.AddrFrom4(b)
		if !addr.IsValid() || addr.IsUnspecified() {
			continue
		}
		return addr, true
	}
	return netip.Addr{}, false
}
