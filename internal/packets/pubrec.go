package packets

import "io"

// PubrecPacket represents an MQTT PUBREC control packet (QoS 2, first acknowledgment).
type PubrecPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *PubrecPacket) Type() uint8 {
	return PUBREC
}

// Encode serializes the PUBREC packet into dst.
func (p *PubrecPacket) Encode(dst []byte) ([]byte, error) {
	return appendIDOnly(dst, PUBREC, 0, p.PacketID), nil
}

// WriteTo writes the PUBREC packet to the writer.
func (p *PubrecPacket) WriteTo(w io.Writer) (int64, error) {
	return writeEncoded(w, p)
}

// DecodePubrec decodes a PUBREC packet from the remaining bytes.
func DecodePubrec(buf []byte) (*PubrecPacket, error) {
	id, err := decodeIDOnly(buf, PUBREC)
	if err != nil {
		return nil, err
	}
	return &PubrecPacket{PacketID: id}, nil
}
