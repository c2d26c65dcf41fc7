package natpmp

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeGateway runs a local UDP listener that simulates a NAT-PMP gateway.
// respond is called with each received request; a nil return drops the
// datagram.
func fakeGateway(t *testing.T, respond func(req []byte) []byte) (netip.Addr, int, func()) {
	t.Helper()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 64)
		for {
			n, clientAddr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			resp := respond(append([]byte(nil), buf[:n]...))
			if resp != nil {
				_, _ = conn.WriteTo(resp, clientAddr)
			}
		}
	}()

	addrPort := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	cleanup := func() {
		conn.Close()
		<-done
	}
	return addrPort.Addr(), int(addrPort.Port()), cleanup
}

func TestUDPClient_PublicAddress_Success(t *testing.T) {
	wantIP := netip.MustParseAddr("203.0.113.5")
	addr, port, cleanup := fakeGateway(t, func(req []byte) []byte {
		if len(req) != 2 || req[1] != opPublicAddress {
			t.Errorf("unexpected request %v", req)
			return nil
		}
		return publicAddressResponseBytes(ResultSuccess, wantIP)
	})
	defer cleanup()

	client := &UDPClient{Port: port, InitialTimeout: time.Second}
	resp, err := client.PublicAddress(context.Background(), addr, 3)
	if err != nil {
		t.Fatalf("PublicAddress() error = %v", err)
	}
	if resp.Result != ResultSuccess {
		t.Errorf("result = %d, want 0", resp.Result)
	}
	if resp.IP != wantIP {
		t.Errorf("ip = %s, want %s", resp.IP, wantIP)
	}
}

func TestUDPClient_MapPort_GrantsDifferentPort(t *testing.T) {
	addr, port, cleanup := fakeGateway(t, func(req []byte) []byte {
		if len(req) != 12 || req[1] != opMapTCP {
			t.Errorf("unexpected request %v", req)
			return nil
		}
		// Grant a different external port than requested.
		return mapResponseBytes(ResultSuccess, 48443, 50000, 3600)
	})
	defer cleanup()

	client := &UDPClient{Port: port, InitialTimeout: time.Second}
	resp, err := client.MapPort(context.Background(), addr, MapRequest{
		InternalPort: 48443,
		ExternalPort: 48443,
		Lifetime:     3600,
	}, 3)
	if err != nil {
		t.Fatalf("MapPort() error = %v", err)
	}
	if resp.MappedPort != 50000 {
		t.Errorf("mapped port = %d, want 50000", resp.MappedPort)
	}
}

func TestUDPClient_MapPort_RefusalReturnedNotError(t *testing.T) {
	addr, port, cleanup := fakeGateway(t, func(req []byte) []byte {
		return mapResponseBytes(ResultNotAuthorized, 0, 0, 0)
	})
	defer cleanup()

	client := &UDPClient{Port: port, InitialTimeout: time.Second}
	resp, err := client.MapPort(context.Background(), addr, MapRequest{InternalPort: 1000, ExternalPort: 1000, Lifetime: 60}, 3)
	if err != nil {
		t.Fatalf("MapPort() error = %v", err)
	}
	if resp.Result != ResultNotAuthorized {
		t.Errorf("result = %d, want %d", resp.Result, ResultNotAuthorized)
	}
}

func TestUDPClient_RetransmitsUntilResponse(t *testing.T) {
	var requests atomic.Int32
	addr, port, cleanup := fakeGateway(t, func(req []byte) []byte {
		if requests.Add(1) < 3 {
			return nil // drop the first two attempts
		}
		return publicAddressResponseBytes(ResultSuccess, netip.MustParseAddr("203.0.113.5"))
	})
	defer cleanup()

	client := &UDPClient{Port: port, InitialTimeout: 50 * time.Millisecond}
	resp, err := client.PublicAddress(context.Background(), addr, 5)
	if err != nil {
		t.Fatalf("PublicAddress() error = %v", err)
	}
	if resp.Result != ResultSuccess {
		t.Errorf("result = %d, want 0", resp.Result)
	}
	if got := requests.Load(); got < 3 {
		t.Errorf("gateway saw %d requests, want at least 3", got)
	}
}

func TestUDPClient_ExhaustedRetriesIsTransportError(t *testing.T) {
	addr, port, cleanup := fakeGateway(t, func(req []byte) []byte {
		return nil // never respond
	})
	defer cleanup()

	client := &UDPClient{Port: port, InitialTimeout: 20 * time.Millisecond}
	_, err := client.PublicAddress(context.Background(), addr, 2)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if transportErr.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", transportErr.Attempts)
	}
	if transportErr.Op != "public address" {
		t.Errorf("op = %q, want public address", transportErr.Op)
	}
}

func TestUDPClient_ContextCancelled(t *testing.T) {
	addr, port, cleanup := fakeGateway(t, func(req []byte) []byte {
		return nil
	})
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &UDPClient{Port: port, InitialTimeout: time.Second}
	_, err := client.PublicAddress(ctx, addr, 3)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestUDPClient_RejectsNonIPv4Gateway(t *testing.T) {
	client := &UDPClient{}
	_, err := client.PublicAddress(context.Background(), netip.MustParseAddr("2001:db8::1"), 3)
	if err == nil {
		t.Fatal("expected error for IPv6 gateway")
	}
}
