package natpmp

import "fmt"

// TransportError reports that the retransmission budget was exhausted
// without receiving any response from the gateway. It is distinct from a
// ProtocolError: the gateway never answered at all.
type TransportError struct {
	Op       string
	Gateway  string
	Attempts int
	Err      error
}

// Error returns the formatted error string.
func (e *TransportError) Error() string {
	return fmt.Sprintf("natpmp: %s: no response from %s after %d attempts: %v", e.Op, e.Gateway, e.Attempts, e.Err)
}

// Unwrap returns the last underlying transmission error.
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports that the gateway answered with a non-zero result
// code, refusing the request.
type ProtocolError struct {
	Op   string
	Code uint16
}

// Error returns the formatted error string with the RFC reason text.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("natpmp: %s: gateway result %d: %s", e.Op, e.Code, e.Reason())
}

// Reason returns the human-readable reason for the result code.
func (e *ProtocolError) Reason() string { return ResultText(e.Code) }
