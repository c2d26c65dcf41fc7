// Package natpmp implements the client side of the NAT Port Mapping
// Protocol (RFC 6886): public address queries and TCP port mapping
// requests against the local gateway, including the protocol's
// retransmission schedule.
package natpmp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// DefaultPort is the gateway UDP port NAT-PMP listens on.
const DefaultPort = 5351

// protocolVersion is the only NAT-PMP protocol version.
const protocolVersion byte = 0

// NAT-PMP opcodes. Responses set the high bit of the request opcode.
const (
	opPublicAddress byte = 0
	opMapTCP        byte = 2
	opResponseBit   byte = 0x80
)

// Result codes returned by the gateway.
const (
	ResultSuccess            uint16 = 0
	ResultUnsupportedVersion uint16 = 1
	ResultNotAuthorized      uint16 = 2
	ResultNetworkFailure     uint16 = 3
	ResultOutOfResources     uint16 = 4
	ResultUnsupportedOpcode  uint16 = 5
)

// ResultText maps a gateway result code to a human-readable reason.
func ResultText(code uint16) string {
	switch code {
	case ResultSuccess:
		return "success"
	case ResultUnsupportedVersion:
		return "unsupported version"
	case ResultNotAuthorized:
		return "not authorized/refused"
	case ResultNetworkFailure:
		return "network failure"
	case ResultOutOfResources:
		return "out of resources"
	case ResultUnsupportedOpcode:
		return "unsupported opcode"
	default:
		return fmt.Sprintf("unknown result code %d", code)
	}
}

// PublicAddressResponse is the gateway's answer to a public address query.
// IP is only set when Result is ResultSuccess.
type PublicAddressResponse struct {
	Result uint16
	Epoch  uint32
	IP     netip.Addr
}

// MapRequest describes a TCP port mapping to request from the gateway.
type MapRequest struct {
	InternalPort uint16
	ExternalPort uint16
	Lifetime     uint32
}

// MapResponse is the gateway's answer to a port mapping request. The
// gateway may grant a MappedPort different from the requested external
// port; the granted value is authoritative. Port and lifetime fields are
// only set when Result is ResultSuccess.
type MapResponse struct {
	Result       uint16
	Epoch        uint32
	InternalPort uint16
	MappedPort   uint16
	Lifetime     uint32
}

// buildPublicAddressRequest creates a 2-byte public address request.
func buildPublicAddressRequest() []byte {
	return []byte{protocolVersion, opPublicAddress}
}

// buildMapRequest creates a 12-byte TCP port mapping request.
// Format: version (1) | opcode (1) | reserved (2) | internal port (2) |
// requested external port (2) | lifetime seconds (4)
func buildMapRequest(req MapRequest) []byte {
	buf := make([]byte, 12)
	buf[0] = protocolVersion
	buf[1] = opMapTCP
	binary.BigEndian.PutUint16(buf[4:6], req.InternalPort)
	binary.BigEndian.PutUint16(buf[6:8], req.ExternalPort)
	binary.BigEndian.PutUint32(buf[8:12], req.Lifetime)
	return buf
}

// checkResponseHeader validates the common 8-byte response header and
// returns the result code and epoch.
func checkResponseHeader(data []byte, wantOp byte) (result uint16, epoch uint32, err error) {
	if len(data) < 8 {
		return 0, 0, errors.New("response too short")
	}
	if data[0] != protocolVersion {
		return 0, 0, fmt.Errorf("unsupported version %d", data[0])
	}
	if data[1] != wantOp|opResponseBit {
		return 0, 0, fmt.Errorf("unexpected opcode 0x%02X", data[1])
	}
	return binary.BigEndian.Uint16(data[2:4]), binary.BigEndian.Uint32(data[4:8]), nil
}

// parsePublicAddressResponse decodes a public address response.
// Error responses from the gateway may omit the address field; the
// result code is still decoded so callers can surface the reason.
func parsePublicAddressResponse(data []byte) (PublicAddressResponse, error) {
	result, epoch, err := checkResponseHeader(data, opPublicAddress)
	if err != nil {
		return PublicAddressResponse{}, err
	}
	resp := PublicAddressResponse{Result: result, Epoch: epoch}
	if result != ResultSuccess {
		return resp, nil
	}
	if len(data) < 12 {
		return PublicAddressResponse{}, errors.New("success response missing address")
	}
	resp.IP = netip.AddrFrom4([4]byte(data[8:12]))
	return resp, nil
}

// parseMapResponse decodes a port mapping response.
func parseMapResponse(data []byte) (MapResponse, error) {
	result, epoch, err := checkResponseHeader(data, opMapTCP)
	if err != nil {
		return MapResponse{}, err
	}
	resp := MapResponse{Result: result, Epoch: epoch}
	if result != ResultSuccess {
		return resp, nil
	}
	if len(data) < 16 {
		return MapResponse{}, errors.New("success response missing mapping")
	}
	resp.InternalPort = binary.BigEndian.Uint16(data[8:10])
	resp.MappedPort = binary.BigEndian.Uint16(data[10:12])
	resp.Lifetime = binary.BigEndian.Uint32(data[12:16])
	return resp, nil
}
