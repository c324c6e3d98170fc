// Package packets implements the MQTT v3.1.1 control packet codec.
//
// Every packet type can be serialized with Encode (append to a byte slice) or
// WriteTo (stream to an io.Writer). Incoming bytes are decoded either from a
// buffer with Decode, which reports ErrNeedMoreData for incomplete input, or
// from a stream with ReadPacket.
package packets

import (
	"errors"
	"io"
)

var (
	// ErrNeedMoreData is returned by Decode when the buffer holds a valid
	// prefix of a packet but not the whole packet.
	ErrNeedMoreData = errors.New("packets: need more data")

	// ErrMalformedPacket is wrapped by every error caused by bytes that can
	// never form a valid packet.
	ErrMalformedPacket = errors.New("packets: malformed packet")

	// ErrPacketTooLarge is returned when an encoded packet would exceed the
	// maximum remaining length of 268435455 bytes.
	ErrPacketTooLarge = errors.New("packets: packet too large")
)

// Packet is the interface that all MQTT control packets implement.
type Packet interface {
	// Type returns the MQTT control packet type.
	Type() uint8

	// Encode appends the serialized packet to dst and returns the extended slice.
	Encode(dst []byte) ([]byte, error)

	// WriteTo writes the packet to the writer.
	// It returns the number of bytes written and any error encountered.
	WriteTo(w io.Writer) (int64, error)
}

// writeEncoded serializes p into a pooled buffer and writes it in one call.
func writeEncoded(w io.Writer, p Packet) (int64, error) {
	bufPtr := getBuffer(defaultBufferSize)
	defer putBuffer(bufPtr)

	data, err := p.Encode((*bufPtr)[:0])
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}
