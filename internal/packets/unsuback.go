package packets

import "io"

// UnsubackPacket represents an MQTT UNSUBACK control packet.
type UnsubackPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *UnsubackPacket) Type() uint8 {
	return UNSUBACK
}

// Encode serializes the UNSUBACK packet into dst.
func (p *UnsubackPacket) Encode(dst []byte) ([]byte, error) {
	return appendIDOnly(dst, UNSUBACK, 0, p.PacketID), nil
}

// WriteTo writes the UNSUBACK packet to the writer.
func (p *UnsubackPacket) WriteTo(w io.Writer) (int64, error) {
	return writeEncoded(w, p)
}

// DecodeUnsuback decodes a UNSUBACK packet from the remaining bytes.
func DecodeUnsuback(buf []byte) (*UnsubackPacket, error) {
	id, err := decodeIDOnly(buf, UNSUBACK)
	if err != nil {
		return nil, err
	}
	return &UnsubackPacket{PacketID: id}, nil
}
