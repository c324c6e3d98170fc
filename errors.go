package mqttc

import (
	"errors"
	"fmt"

	"github.com/augbari/mqttc/internal/packets"
)

// Standard errors returned by the client. Match them with errors.Is.
var (
	// ErrTransport is returned when the network connection cannot be opened
	// or fails while reading or writing.
	ErrTransport = errors.New("mqttc: transport error")

	// ErrProtocol is returned when the server violates MQTT v3.1.1, for
	// example by sending a malformed packet or a packet a client never expects.
	ErrProtocol = errors.New("mqttc: protocol violation")

	// Connection refusal reasons, carried by *ConnackError.
	ErrProtocolVersionRejected = errors.New("mqttc: unacceptable protocol version")
	ErrIdentifierRejected      = errors.New("mqttc: identifier rejected")
	ErrServerUnavailable       = errors.New("mqttc: server unavailable")
	ErrAuthenticationRejected  = errors.New("mqttc: authentication rejected")

	// ErrConnectTimeout is returned when the CONNACK does not arrive before
	// the connect timeout or the context deadline.
	ErrConnectTimeout = errors.New("mqttc: connect timeout")

	// ErrKeepaliveTimeout is reported through the connection-lost callback when
	// a PINGREQ goes unanswered for longer than the ping timeout.
	ErrKeepaliveTimeout = errors.New("mqttc: keepalive timeout")

	// ErrConnectionLost is reported when an established connection closes
	// without Disconnect being called. Tokens for operations that cannot
	// survive the loss complete with it.
	ErrConnectionLost = errors.New("mqttc: connection lost")

	// ErrSubscriptionRejected is carried by *SubscriptionError when the server
	// answers a topic filter with the SUBACK failure code 0x80.
	ErrSubscriptionRejected = errors.New("mqttc: subscription rejected")

	// ErrIdentifierSpaceExhausted is returned when all 65535 packet
	// identifiers are held by unacknowledged messages.
	ErrIdentifierSpaceExhausted = errors.New("mqttc: packet identifier space exhausted")

	// ErrNotConnected is returned by operations that need a connection.
	ErrNotConnected = errors.New("mqttc: not connected")

	// ErrNotFound is returned when an acknowledgment refers to a packet
	// identifier that has no in-flight entry.
	ErrNotFound = errors.New("mqttc: packet identifier not in flight")

	// ErrClientDisconnected is returned when an operation is cancelled because
	// Disconnect was called.
	ErrClientDisconnected = errors.New("mqttc: client disconnected")

	// ErrDisconnecting is returned by Connect while a Disconnect is still
	// tearing the previous connection down.
	ErrDisconnecting = errors.New("mqttc: disconnect in progress")
)

// ConnackError is returned by Connect when the server refuses the connection.
type ConnackError struct {
	ReturnCode uint8
}

func (e *ConnackError) Error() string {
	if e.Unwrap() != nil {
		return fmt.Sprintf("%s (CONNACK return code %d)", e.Unwrap(), e.ReturnCode)
	}
	return fmt.Sprintf("mqttc: connection refused (CONNACK return code %d)", e.ReturnCode)
}

// Unwrap maps the return code to one of the refusal sentinels.
// Codes 4 (bad username or password) and 5 (not authorized) both map to
// ErrAuthenticationRejected.
func (e *ConnackError) Unwrap() error {
	switch e.ReturnCode {
	case packets.ConnRefusedUnacceptableProtocol:
		return ErrProtocolVersionRejected
	case packets.ConnRefusedIdentifierRejected:
		return ErrIdentifierRejected
	case packets.ConnRefusedServerUnavailable:
		return ErrServerUnavailable
	case packets.ConnRefusedBadUsernameOrPassword, packets.ConnRefusedNotAuthorized:
		return ErrAuthenticationRejected
	default:
		return nil
	}
}

// SubscriptionError reports a single topic filter refused by the server.
type SubscriptionError struct {
	Filter string
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("%s: %q", ErrSubscriptionRejected, e.Filter)
}

func (e *SubscriptionError) Unwrap() error {
	return ErrSubscriptionRejected
}

// transportError wraps a network failure so that it matches ErrTransport.
func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// protocolError builds an error matching ErrProtocol.
func protocolError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}
