package packets

import (
	"fmt"
	"io"
)

// maxVarIntBytes is the longest legal remaining length encoding.
const maxVarIntBytes = 4

// encodeVarInt encodes an integer as a Variable Byte Integer (1-4 bytes).
// Algorithm from MQTT v3.1.1 section 2.2.3.
func encodeVarInt(value int) ([]byte, error) {
	if value >= 0 && value < 128 {
		return []byte{byte(value)}, nil
	}
	return appendVarInt(make([]byte, 0, maxVarIntBytes), value)
}

// appendVarInt appends the Variable Byte Integer encoding of value to dst.
func appendVarInt(dst []byte, value int) ([]byte, error) {
	if value < 0 || value > MaxRemainingLength {
		return dst, fmt.Errorf("%w: remaining length %d", ErrPacketTooLarge, value)
	}

	for {
		digit := byte(value % 128)
		value /= 128
		if value > 0 {
			digit |= 0x80
		}
		dst = append(dst, digit)
		if value == 0 {
			return dst, nil
		}
	}
}

// decodeVarIntBuf decodes a Variable Byte Integer from the start of buf.
// It returns the value and the number of bytes used. An unterminated
// encoding shorter than four bytes yields ErrNeedMoreData; a continuation bit
// on the fourth byte is malformed.
func decodeVarIntBuf(buf []byte) (int, int, error) {
	value := 0
	multiplier := 1
	for i := 0; i < maxVarIntBytes; i++ {
		if i >= len(buf) {
			return 0, 0, ErrNeedMoreData
		}
		b := buf[i]
		value += int(b&0x7F) * multiplier
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
		multiplier *= 128
	}
	return 0, 0, fmt.Errorf("%w: remaining length exceeds %d bytes", ErrMalformedPacket, maxVarIntBytes)
}

// decodeVarInt reads a Variable Byte Integer from the reader.
func decodeVarInt(r io.Reader) (int, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}

	value := 0
	multiplier := 1
	for i := 0; i < maxVarIntBytes; i++ {
		b, err := br.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		value += int(b&0x7F) * multiplier
		if b&0x80 == 0 {
			return value, nil
		}
		multiplier *= 128
	}
	return 0, fmt.Errorf("%w: remaining length exceeds %d bytes", ErrMalformedPacket, maxVarIntBytes)
}

// byteReader wraps an io.Reader to implement io.ByteReader
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (br *byteReader) ReadByte() (byte, error) {
	_, err := io.ReadFull(br.r, br.buf[:])
	return br.buf[0], err
}
