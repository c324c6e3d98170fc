package packets

import (
	"fmt"
	"io"
)

// ConnackPacket represents an MQTT CONNACK control packet.
type ConnackPacket struct {
	SessionPresent bool
	ReturnCode     uint8
}

// Type returns the packet type.
func (p *ConnackPacket) Type() uint8 {
	return CONNACK
}

// Encode serializes the CONNACK packet into dst.
func (p *ConnackPacket) Encode(dst []byte) ([]byte, error) {
	var ackFlags uint8
	if p.SessionPresent {
		ackFlags = 0x01
	}
	return append(dst, CONNACK<<4, 2, ackFlags, p.ReturnCode), nil
}

// WriteTo writes the CONNACK packet to the writer.
func (p *ConnackPacket) WriteTo(w io.Writer) (int64, error) {
	return writeEncoded(w, p)
}

// DecodeConnack decodes a CONNACK packet from the remaining bytes.
func DecodeConnack(buf []byte) (*ConnackPacket, error) {
	if len(buf) != 2 {
		return nil, fmt.Errorf("%w: CONNACK remaining length %d, want 2", ErrMalformedPacket, len(buf))
	}
	if buf[0]&0xFE != 0 {
		return nil, fmt.Errorf("%w: CONNACK reserved ack flags set", ErrMalformedPacket)
	}
	return &ConnackPacket{
		SessionPresent: buf[0]&0x01 != 0,
		ReturnCode:     buf[1],
	}, nil
}
