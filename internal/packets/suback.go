package packets

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SubackPacket represents an MQTT SUBACK control packet.
type SubackPacket struct {
	PacketID uint16

	// ReturnCodes holds one granted QoS (0-2) or SubackFailure per filter,
	// in the order of the SUBSCRIBE.
	ReturnCodes []uint8
}

// Type returns the packet type.
func (p *SubackPacket) Type() uint8 {
	return SUBACK
}

// Encode serializes the SUBACK packet into dst.
func (p *SubackPacket) Encode(dst []byte) ([]byte, error) {
	header := FixedHeader{PacketType: SUBACK, RemainingLength: 2 + len(p.ReturnCodes)}
	dst, err := header.appendBytes(dst)
	if err != nil {
		return dst, err
	}
	dst = binary.BigEndian.AppendUint16(dst, p.PacketID)
	return append(dst, p.ReturnCodes...), nil
}

// WriteTo writes the SUBACK packet to the writer.
func (p *SubackPacket) WriteTo(w io.Writer) (int64, error) {
	return writeEncoded(w, p)
}

// DecodeSuback decodes a SUBACK packet from the remaining bytes.
func DecodeSuback(buf []byte) (*SubackPacket, error) {
	id, err := decodeUint16(buf, "packet ID")
	if err != nil {
		return nil, err
	}
	pkt := &SubackPacket{
		PacketID:    id,
		ReturnCodes: append([]uint8(nil), buf[2:]...),
	}
	for _, code := range pkt.ReturnCodes {
		if code > QoS2 && code != SubackFailure {
			return nil, fmt.Errorf("%w: SUBACK return code 0x%X", ErrMalformedPacket, code)
		}
	}
	return pkt, nil
}
