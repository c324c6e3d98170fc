package packets

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PubackPacket represents an MQTT PUBACK control packet (QoS 1 acknowledgment).
type PubackPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *PubackPacket) Type() uint8 {
	return PUBACK
}

// Encode serializes the PUBACK packet into dst.
func (p *PubackPacket) Encode(dst []byte) ([]byte, error) {
	return appendIDOnly(dst, PUBACK, 0, p.PacketID), nil
}

// WriteTo writes the PUBACK packet to the writer.
func (p *PubackPacket) WriteTo(w io.Writer) (int64, error) {
	return writeEncoded(w, p)
}

// DecodePuback decodes a PUBACK packet from the remaining bytes.
func DecodePuback(buf []byte) (*PubackPacket, error) {
	id, err := decodeIDOnly(buf, PUBACK)
	if err != nil {
		return nil, err
	}
	return &PubackPacket{PacketID: id}, nil
}

// appendIDOnly encodes the packets whose variable header is just a packet ID:
// PUBACK, PUBREC, PUBREL, PUBCOMP and UNSUBACK.
func appendIDOnly(dst []byte, packetType, flags uint8, id uint16) []byte {
	dst = append(dst, packetType<<4|flags, 2)
	return binary.BigEndian.AppendUint16(dst, id)
}

func decodeIDOnly(buf []byte, packetType uint8) (uint16, error) {
	if len(buf) != 2 {
		return 0, fmt.Errorf("%w: %s remaining length %d, want 2", ErrMalformedPacket, Name(packetType), len(buf))
	}
	id := binary.BigEndian.Uint16(buf)
	if id == 0 {
		return 0, fmt.Errorf("%w: %s packet ID 0", ErrMalformedPacket, Name(packetType))
	}
	return id, nil
}
