package packets

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SubscribePacket represents an MQTT SUBSCRIBE control packet.
type SubscribePacket struct {
	PacketID uint16
	Topics   []string
	QoS      []uint8 // requested QoS for each topic
}

// Type returns the packet type.
func (p *SubscribePacket) Type() uint8 {
	return SUBSCRIBE
}

// Encode serializes the SUBSCRIBE packet into dst.
func (p *SubscribePacket) Encode(dst []byte) ([]byte, error) {
	if len(p.Topics) == 0 {
		return dst, fmt.Errorf("SUBSCRIBE requires at least one topic filter")
	}
	if len(p.QoS) != len(p.Topics) {
		return dst, fmt.Errorf("SUBSCRIBE has %d filters but %d QoS values", len(p.Topics), len(p.QoS))
	}

	remaining := 2
	for _, topic := range p.Topics {
		remaining += 2 + len(topic) + 1
	}

	// SUBSCRIBE has fixed header flags = 0x02
	header := FixedHeader{PacketType: SUBSCRIBE, Flags: 0x02, RemainingLength: remaining}
	dst, err := header.appendBytes(dst)
	if err != nil {
		return dst, err
	}
	dst = binary.BigEndian.AppendUint16(dst, p.PacketID)
	for i, topic := range p.Topics {
		if dst, err = appendString(dst, topic); err != nil {
			return dst, fmt.Errorf("topic filter %q: %w", topic, err)
		}
		dst = append(dst, p.QoS[i]&0x03)
	}
	return dst, nil
}

// WriteTo writes the SUBSCRIBE packet to the writer.
func (p *SubscribePacket) WriteTo(w io.Writer) (int64, error) {
	return writeEncoded(w, p)
}

// DecodeSubscribe decodes a SUBSCRIBE packet from the remaining bytes.
func DecodeSubscribe(buf []byte) (*SubscribePacket, error) {
	id, err := decodeUint16(buf, "packet ID")
	if err != nil {
		return nil, err
	}
	pkt := &SubscribePacket{PacketID: id}

	offset := 2
	for offset < len(buf) {
		topic, n, err := decodeString(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode topic filter: %w", err)
		}
		offset += n
		if offset >= len(buf) {
			return nil, fmt.Errorf("%w: missing requested QoS for %q", ErrMalformedPacket, topic)
		}
		qos := buf[offset]
		offset++
		if qos > QoS2 {
			return nil, fmt.Errorf("%w: requested QoS byte 0x%X", ErrMalformedPacket, qos)
		}
		pkt.Topics = append(pkt.Topics, topic)
		pkt.QoS = append(pkt.QoS, qos)
	}
	if len(pkt.Topics) == 0 {
		return nil, fmt.Errorf("%w: SUBSCRIBE without topic filters", ErrMalformedPacket)
	}
	return pkt, nil
}
