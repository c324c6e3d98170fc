package packets

import (
	"encoding/binary"
	"fmt"
	"io"
)

// UnsubscribePacket represents an MQTT UNSUBSCRIBE control packet.
type UnsubscribePacket struct {
	PacketID uint16
	Topics   []string
}

// Type returns the packet type.
func (p *UnsubscribePacket) Type() uint8 {
	return UNSUBSCRIBE
}

// Encode serializes the UNSUBSCRIBE packet into dst.
func (p *UnsubscribePacket) Encode(dst []byte) ([]byte, error) {
	if len(p.Topics) == 0 {
		return dst, fmt.Errorf("UNSUBSCRIBE requires at least one topic filter")
	}
	remaining := 2
	for _, topic := range p.Topics {
		remaining += 2 + len(topic)
	}

	header := FixedHeader{PacketType: UNSUBSCRIBE, Flags: 0x02, RemainingLength: remaining}
	dst, err := header.appendBytes(dst)
	if err != nil {
		return dst, err
	}
	dst = binary.BigEndian.AppendUint16(dst, p.PacketID)
	for _, topic := range p.Topics {
		if dst, err = appendString(dst, topic); err != nil {
			return dst, fmt.Errorf("topic filter %q: %w", topic, err)
		}
	}
	return dst, nil
}

// WriteTo writes the UNSUBSCRIBE packet to the writer.
func (p *UnsubscribePacket) WriteTo(w io.Writer) (int64, error) {
	return writeEncoded(w, p)
}

// DecodeUnsubscribe decodes an UNSUBSCRIBE packet from the remaining bytes.
func DecodeUnsubscribe(buf []byte) (*UnsubscribePacket, error) {
	id, err := decodeUint16(buf, "packet ID")
	if err != nil {
		return nil, err
	}
	pkt := &UnsubscribePacket{PacketID: id}
	for offset := 2; offset < len(buf); {
		topic, n, err := decodeString(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode topic filter: %w", err)
		}
		pkt.Topics = append(pkt.Topics, topic)
		offset += n
	}
	if len(pkt.Topics) == 0 {
		return nil, fmt.Errorf("%w: UNSUBSCRIBE without topic filters", ErrMalformedPacket)
	}
	return pkt, nil
}
