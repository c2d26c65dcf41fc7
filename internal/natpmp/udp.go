package natpmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// defaultInitialTimeout is the first per-attempt wait, doubled on every
// retransmission per RFC 6886 §3.1.
const defaultInitialTimeout = 250 * time.Millisecond

// UDPClient exchanges NAT-PMP datagrams with a gateway over UDP.
// The zero value uses the standard gateway port and retransmission
// schedule.
type UDPClient struct {
	// Port overrides the gateway UDP port. Default: DefaultPort.
	Port int

	// InitialTimeout overrides the first per-attempt timeout.
	// Default: 250ms, doubling on each retransmission.
	InitialTimeout time.Duration
}

// PublicAddress queries the gateway for its public IPv4 address,
// retransmitting up to retry times.
func (c *UDPClient) PublicAddress(ctx context.Context, gateway netip.Addr, retry int) (PublicAddressResponse, error) {
	data, err := c.exchange(ctx, gateway, "public address", buildPublicAddressRequest(), retry)
	if err != nil {
		return PublicAddressResponse{}, err
	}
	resp, err := parsePublicAddressResponse(data)
	if err != nil {
		return PublicAddressResponse{}, fmt.Errorf("natpmp: public address: %w", err)
	}
	return resp, nil
}

// MapPort asks the gateway to map a public TCP port to a local one,
// retransmitting up to retry times. The response is returned whatever its
// result code; callers decide how to treat a refusal.
func (c *UDPClient) MapPort(ctx context.Context, gateway netip.Addr, req MapRequest, retry int) (MapResponse, error) {
	data, err := c.exchange(ctx, gateway, "port mapping", buildMapRequest(req), retry)
	if err != nil {
		return MapResponse{}, err
	}
	resp, err := parseMapResponse(data)
	if err != nil {
		return MapResponse{}, fmt.Errorf("natpmp: port mapping: %w", err)
	}
	return resp, nil
}

// exchange sends a request datagram and waits for the gateway's reply,
// doubling the wait and retransmitting until retry attempts are used up.
// Exhausting the budget yields a *TransportError.
func (c *UDPClient) exchange(ctx context.Context, gateway netip.Addr, op string, request []byte, retry int) ([]byte, error) {
	if !gateway.Is4() {
		return nil, fmt.Errorf("natpmp: %s: gateway %s is not an IPv4 address", op, gateway)
	}
	if retry < 1 {
		retry = 1
	}

	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	remote := net.UDPAddrFromAddrPort(netip.AddrPortFrom(gateway, uint16(port)))

	conn, err := net.DialUDP("udp4", nil, remote)
	if err != nil {
		return nil, fmt.Errorf("natpmp: %s: dial: %w", op, err)
	}
	defer conn.Close()

	timeout := c.InitialTimeout
	if timeout == 0 {
		timeout = defaultInitialTimeout
	}

	var lastErr error
	for attempt := 0; attempt < retry; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("natpmp: %s: %w", op, err)
		}

		// Use the earlier of the per-attempt timeout or context deadline.
		deadline := time.Now().Add(timeout)
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("natpmp: %s: set deadline: %w", op, err)
		}

		if _, err := conn.Write(request); err != nil {
			lastErr = err
			timeout *= 2
			continue
		}

		buf := make([]byte, 24)
		n, err := conn.Read(buf)
		if err != nil {
			lastErr = err
			timeout *= 2
			continue
		}
		return buf[:n], nil
	}

	if lastErr == nil {
		lastErr = errors.New("no attempt completed")
	}
	return nil, &TransportError{Op: op, Gateway: gateway.String(), Attempts: retry, Err: lastErr}
}
