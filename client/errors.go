package client

import (
	"errors"
	"fmt"

	"github.com/axmq/axon/encoding"
)

var (
	// ErrClientClosed indicates the handle was closed before the operation
	ErrClientClosed = errors.New("client is closed")

	// ErrConnectionClosed indicates the stream failed or was closed by the peer
	ErrConnectionClosed = errors.New("connection closed")

	// ErrUnexpectedPacket indicates the server sent a packet type the client
	// never expects, such as CONNECT or SUBSCRIBE
	ErrUnexpectedPacket = errors.New("unexpected packet from server")

	// ErrKeepAliveTimeout indicates no PINGRESP arrived within 1.5 times the
	// keep-alive interval
	ErrKeepAliveTimeout = errors.New("keep-alive timeout waiting for PINGRESP")

	// ErrManualAckDisabled indicates Ack was called without ManualAcks set
	ErrManualAckDisabled = errors.New("manual acknowledgements are not enabled")

	// ErrNoPendingAck indicates Ack was called for an identifier with no
	// deferred acknowledgement
	ErrNoPendingAck = errors.New("no pending acknowledgement for packet identifier")

	// ErrPacketTooLarge indicates the encoded packet exceeds the maximum
	// packet size the server advertised
	ErrPacketTooLarge = errors.New("packet exceeds server maximum packet size")

	// ErrEmptyFilterList indicates Subscribe or Unsubscribe with no filters
	ErrEmptyFilterList = errors.New("at least one topic filter is required")
)

// ConnectError is returned when the server refuses the connection with a
// CONNACK carrying a non-success reason code.
type ConnectError struct {
	ReasonCode encoding.ReasonCode
	Properties encoding.Properties
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connection refused: %s (0x%02X)", e.ReasonCode, byte(e.ReasonCode))
}
