package packets

import (
	"fmt"
	"io"
)

// PingreqPacket represents an MQTT PINGREQ control packet.
type PingreqPacket struct{}

// Type returns the packet type.
func (p *PingreqPacket) Type() uint8 {
	return PINGREQ
}

// Encode serializes the PINGREQ packet into dst.
func (p *PingreqPacket) Encode(dst []byte) ([]byte, error) {
	return append(dst, PINGREQ<<4, 0), nil
}

// WriteTo writes the PINGREQ packet to the writer.
func (p *PingreqPacket) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write([]byte{PINGREQ << 4, 0})
	return int64(n), err
}

// DecodePingreq decodes a PINGREQ packet.
func DecodePingreq(buf []byte) (*PingreqPacket, error) {
	if err := expectEmpty(buf, PINGREQ); err != nil {
		return nil, err
	}
	return &PingreqPacket{}, nil
}

// expectEmpty rejects a body on packets that have none.
func expectEmpty(buf []byte, packetType uint8) error {
	if len(buf) != 0 {
		return fmt.Errorf("%w: %s remaining length %d, want 0", ErrMalformedPacket, Name(packetType), len(buf))
	}
	return nil
}
