package packets

import "io"

// PubcompPacket represents an MQTT PUBCOMP control packet (QoS 2, completion).
type PubcompPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *PubcompPacket) Type() uint8 {
	return PUBCOMP
}

// Encode serializes the PUBCOMP packet into dst.
func (p *PubcompPacket) Encode(dst []byte) ([]byte, error) {
	return appendIDOnly(dst, PUBCOMP, 0, p.PacketID), nil
}

// WriteTo writes the PUBCOMP packet to the writer.
func (p *PubcompPacket) WriteTo(w io.Writer) (int64, error) {
	return writeEncoded(w, p)
}

// DecodePubcomp decodes a PUBCOMP packet from the remaining bytes.
func DecodePubcomp(buf []byte) (*PubcompPacket, error) {
	id, err := decodeIDOnly(buf, PUBCOMP)
	if err != nil {
		return nil, err
	}
	return &PubcompPacket{PacketID: id}, nil
}
