package packets

import (
	"errors"
	"fmt"
	"io"
)

// PacketDecoder decodes a packet body given its fixed header.
type PacketDecoder func(remaining []byte, header *FixedHeader) (Packet, error)

// packetDecoders maps packet types to their decoder functions.
var packetDecoders = map[uint8]PacketDecoder{
	CONNECT:     func(b []byte, _ *FixedHeader) (Packet, error) { return DecodeConnect(b) },
	CONNACK:     func(b []byte, _ *FixedHeader) (Packet, error) { return DecodeConnack(b) },
	PUBLISH:     func(b []byte, h *FixedHeader) (Packet, error) { return DecodePublish(b, h) },
	PUBACK:      func(b []byte, _ *FixedHeader) (Packet, error) { return DecodePuback(b) },
	PUBREC:      func(b []byte, _ *FixedHeader) (Packet, error) { return DecodePubrec(b) },
	PUBREL:      func(b []byte, _ *FixedHeader) (Packet, error) { return DecodePubrel(b) },
	PUBCOMP:     func(b []byte, _ *FixedHeader) (Packet, error) { return DecodePubcomp(b) },
	SUBSCRIBE:   func(b []byte, _ *FixedHeader) (Packet, error) { return DecodeSubscribe(b) },
	SUBACK:      func(b []byte, _ *FixedHeader) (Packet, error) { return DecodeSuback(b) },
	UNSUBSCRIBE: func(b []byte, _ *FixedHeader) (Packet, error) { return DecodeUnsubscribe(b) },
	UNSUBACK:    func(b []byte, _ *FixedHeader) (Packet, error) { return DecodeUnsuback(b) },
	PINGREQ:     func(b []byte, _ *FixedHeader) (Packet, error) { return DecodePingreq(b) },
	PINGRESP:    func(b []byte, _ *FixedHeader) (Packet, error) { return DecodePingresp(b) },
	DISCONNECT:  func(b []byte, _ *FixedHeader) (Packet, error) { return DecodeDisconnect(b) },
}

func decodeBody(header *FixedHeader, remaining []byte) (Packet, error) {
	decoder, ok := packetDecoders[header.PacketType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown packet type %d", ErrMalformedPacket, header.PacketType)
	}
	pkt, err := decoder(remaining, header)
	if err != nil && !errors.Is(err, ErrMalformedPacket) {
		err = fmt.Errorf("%w: %w", ErrMalformedPacket, err)
	}
	return pkt, err
}

// Decode decodes one packet from the start of buf.
//
// It returns the packet and the number of bytes it occupied. If buf holds
// only a prefix of a valid packet, Decode returns ErrNeedMoreData and the
// caller should retry from the same offset once more bytes are available.
// Input that can never become a valid packet yields an error wrapping
// ErrMalformedPacket. Decode never retains buf.
func Decode(buf []byte) (Packet, int, error) {
	header, n, err := parseFixedHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	total := n + header.RemainingLength
	if len(buf) < total {
		return nil, 0, ErrNeedMoreData
	}
	pkt, err := decodeBody(&header, buf[n:total])
	if err != nil {
		return nil, 0, err
	}
	return pkt, total, nil
}

// ReadPacket reads a complete MQTT packet from the reader.
// maxSize caps the remaining length; 0 means MaxRemainingLength.
func ReadPacket(r io.Reader, maxSize int) (Packet, error) {
	header, err := DecodeFixedHeader(r)
	if err != nil {
		return nil, err
	}

	if maxSize <= 0 || maxSize > MaxRemainingLength {
		maxSize = MaxRemainingLength
	}
	if header.RemainingLength > maxSize {
		return nil, fmt.Errorf("%w: packet size %d exceeds maximum %d", ErrMalformedPacket, header.RemainingLength, maxSize)
	}

	var remaining []byte
	if header.RemainingLength > 0 {
		bufPtr := getBuffer(header.RemainingLength)
		defer putBuffer(bufPtr)
		remaining = (*bufPtr)[:header.RemainingLength]

		if _, err := io.ReadFull(r, remaining); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("failed to read %s body: %w", Name(header.PacketType), err)
		}
	}

	return decodeBody(header, remaining)
}
