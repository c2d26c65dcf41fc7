package forward

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/portgate/portgate/internal/natpmp"
)

// mockPublicCall records a single PublicAddress invocation.
type mockPublicCall struct {
	Gateway netip.Addr
	Retry   int
}

// mockMapCall records a single MapPort invocation.
type mockMapCall struct {
	Gateway netip.Addr
	Req     natpmp.MapRequest
	Retry   int
}

// mockMapper is a test double for Mapper with configurable responses.
type mockMapper struct {
	mu sync.Mutex

	publicCalls []mockPublicCall
	mapCalls    []mockMapCall

	publicResp natpmp.PublicAddressResponse
	publicErr  error
	mapResp    natpmp.MapResponse
	mapErr     error
}

func (m *mockMapper) PublicAddress(ctx context.Context, gateway netip.Addr, retry int) (natpmp.PublicAddressResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publicCalls = append(m.publicCalls, mockPublicCall{Gateway: gateway, Retry: retry})
	return m.publicResp, m.publicErr
}

func (m *mockMapper) MapPort(ctx context.Context, gateway netip.Addr, req natpmp.MapRequest, retry int) (natpmp.MapResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapCalls = append(m.mapCalls, mockMapCall{Gateway: gateway, Req: req, Retry: retry})
	return m.mapResp, m.mapErr
}

// fixedProbe returns a GatewayProbe yielding the given address.
func fixedProbe(addr string) GatewayProbe {
	return func() (netip.Addr, bool) {
		return netip.MustParseAddr(addr), true
	}
}

// unknownProbe simulates a host without a default route.
func unknownProbe() (netip.Addr, bool) {
	return netip.Addr{}, false
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}
