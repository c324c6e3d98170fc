package packets

import (
	"fmt"
	"io"
)

// FixedHeader represents the fixed header present in all MQTT control packets.
// Format: [PacketType + Flags (1 byte)][Remaining Length (1-4 bytes)]
type FixedHeader struct {
	PacketType      uint8
	Flags           uint8
	RemainingLength int
}

// appendBytes appends the encoded header to dst.
func (h *FixedHeader) appendBytes(dst []byte) ([]byte, error) {
	dst = append(dst, (h.PacketType<<4)|(h.Flags&0x0F))
	return appendVarInt(dst, h.RemainingLength)
}

// WriteTo writes the fixed header to the writer.
func (h *FixedHeader) WriteTo(w io.Writer) (int64, error) {
	var buf [1 + maxVarIntBytes]byte
	data, err := h.appendBytes(buf[:0])
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// validate checks the reserved flag bits of MQTT v3.1.1 section 2.2.2.
func (h *FixedHeader) validate() error {
	switch h.PacketType {
	case PUBLISH:
		if (h.Flags>>1)&0x03 == 3 {
			return fmt.Errorf("%w: PUBLISH with QoS 3", ErrMalformedPacket)
		}
		return nil
	case PUBREL, SUBSCRIBE, UNSUBSCRIBE:
		if h.Flags != 0x02 {
			return fmt.Errorf("%w: %s flags 0x%X, want 0x2", ErrMalformedPacket, Name(h.PacketType), h.Flags)
		}
	case RESERVED, 15:
		return fmt.Errorf("%w: reserved packet type %d", ErrMalformedPacket, h.PacketType)
	default:
		if h.Flags != 0 {
			return fmt.Errorf("%w: %s flags 0x%X, want 0x0", ErrMalformedPacket, Name(h.PacketType), h.Flags)
		}
	}
	return nil
}

// parseFixedHeader decodes a fixed header from the start of buf and returns
// it with the number of header bytes.
func parseFixedHeader(buf []byte) (FixedHeader, int, error) {
	if len(buf) < 2 {
		return FixedHeader{}, 0, ErrNeedMoreData
	}
	remainingLength, n, err := decodeVarIntBuf(buf[1:])
	if err != nil {
		return FixedHeader{}, 0, err
	}
	h := FixedHeader{
		PacketType:      buf[0] >> 4,
		Flags:           buf[0] & 0x0F,
		RemainingLength: remainingLength,
	}
	if err := h.validate(); err != nil {
		return FixedHeader{}, 0, err
	}
	return h, 1 + n, nil
}

// DecodeFixedHeader reads and decodes a fixed header from the reader.
func DecodeFixedHeader(r io.Reader) (*FixedHeader, error) {
	var buf [1]byte

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}

	remainingLength, err := decodeVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode remaining length: %w", err)
	}

	h := &FixedHeader{
		PacketType:      buf[0] >> 4,
		Flags:           buf[0] & 0x0F,
		RemainingLength: remainingLength,
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}
