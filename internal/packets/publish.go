package packets

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PublishPacket represents an MQTT PUBLISH control packet.
type PublishPacket struct {
	// Fixed header flags
	Dup    bool
	QoS    uint8
	Retain bool

	// Variable header
	Topic    string
	PacketID uint16 // Only present if QoS > 0

	Payload []byte
}

// Type returns the packet type.
func (p *PublishPacket) Type() uint8 {
	return PUBLISH
}

func (p *PublishPacket) flags() uint8 {
	var flags uint8
	if p.Dup {
		flags |= 0x08
	}
	flags |= (p.QoS & 0x03) << 1
	if p.Retain {
		flags |= 0x01
	}
	return flags
}

// Encode serializes the PUBLISH packet into dst.
func (p *PublishPacket) Encode(dst []byte) ([]byte, error) {
	if p.QoS > QoS2 {
		return dst, fmt.Errorf("invalid QoS %d", p.QoS)
	}
	if p.QoS > 0 && p.PacketID == 0 {
		return dst, fmt.Errorf("PUBLISH with QoS %d requires a packet ID", p.QoS)
	}

	remaining := 2 + len(p.Topic) + len(p.Payload)
	if p.QoS > 0 {
		remaining += 2
	}

	header := FixedHeader{PacketType: PUBLISH, Flags: p.flags(), RemainingLength: remaining}
	dst, err := header.appendBytes(dst)
	if err != nil {
		return dst, err
	}
	if dst, err = appendString(dst, p.Topic); err != nil {
		return dst, fmt.Errorf("topic: %w", err)
	}
	if p.QoS > 0 {
		dst = binary.BigEndian.AppendUint16(dst, p.PacketID)
	}
	return append(dst, p.Payload...), nil
}

// WriteTo writes the PUBLISH packet to the writer.
func (p *PublishPacket) WriteTo(w io.Writer) (int64, error) {
	return writeEncoded(w, p)
}

// DecodePublish decodes a PUBLISH packet from the remaining bytes and fixed header.
func DecodePublish(buf []byte, fixedHeader *FixedHeader) (*PublishPacket, error) {
	pkt := &PublishPacket{
		Dup:    fixedHeader.Flags&0x08 != 0,
		QoS:    (fixedHeader.Flags >> 1) & 0x03,
		Retain: fixedHeader.Flags&0x01 != 0,
	}
	if pkt.QoS > QoS2 {
		return nil, fmt.Errorf("%w: PUBLISH with QoS 3", ErrMalformedPacket)
	}

	topic, offset, err := decodeString(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode topic: %w", err)
	}
	pkt.Topic = topic

	if pkt.QoS > 0 {
		id, err := decodeUint16(buf[offset:], "packet ID")
		if err != nil {
			return nil, err
		}
		if id == 0 {
			return nil, fmt.Errorf("%w: PUBLISH packet ID 0", ErrMalformedPacket)
		}
		pkt.PacketID = id
		offset += 2
	}

	pkt.Payload = make([]byte, len(buf)-offset)
	copy(pkt.Payload, buf[offset:])

	return pkt, nil
}
