package broker

import "errors"

var (
	// ErrUnsupportedVersion is returned when CONNECT asks for a protocol
	// level above the configured maximum.
	ErrUnsupportedVersion = errors.New("broker: unsupported protocol version")

	// ErrNotAuthorised is returned when CONNECT credentials do not match.
	ErrNotAuthorised = errors.New("broker: bad user name or password")

	// ErrProtocolViolation covers packets that are out of order for the
	// session state or cannot be decoded.
	ErrProtocolViolation = errors.New("broker: protocol violation")

	// ErrMalformedPayload marks a routed publish whose payload is not JSON.
	ErrMalformedPayload = errors.New("broker: malformed payload")

	// ErrPacketTooLarge is returned when a packet's remaining length
	// exceeds the read limit.
	ErrPacketTooLarge = errors.New("broker: packet too large")

	// ErrClientNotConnected is returned when an outbound publish targets a
	// client whose session has closed.
	ErrClientNotConnected = errors.New("broker: client not connected")

	// ErrSessionClosed is returned when the connection must be dropped
	// after a failure while processing a packet.
	ErrSessionClosed = errors.New("broker: session closed")
)
