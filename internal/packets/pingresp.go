package packets

import "io"

// PingrespPacket represents an MQTT PINGRESP control packet.
type PingrespPacket struct{}

// Type returns the packet type.
func (p *PingrespPacket) Type() uint8 {
	return PINGRESP
}

// Encode serializes the PINGRESP packet into dst.
func (p *PingrespPacket) Encode(dst []byte) ([]byte, error) {
	return append(dst, PINGRESP<<4, 0), nil
}

// WriteTo writes the PINGRESP packet to the writer.
func (p *PingrespPacket) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write([]byte{PINGRESP << 4, 0})
	return int64(n), err
}

// DecodePingresp decodes a PINGRESP packet.
func DecodePingresp(buf []byte) (*PingrespPacket, error) {
	if err := expectEmpty(buf, PINGRESP); err != nil {
		return nil, err
	}
	return &PingrespPacket{}, nil
}
