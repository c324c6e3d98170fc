package packets

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// appendString appends a UTF-8 string with a 2-byte length prefix (MSB first).
func appendString(dst []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return dst, fmt.Errorf("string of %d bytes exceeds %d", len(s), math.MaxUint16)
	}
	dst = append(dst, byte(len(s)>>8), byte(len(s)))
	return append(dst, s...), nil
}

// appendBinary appends length-prefixed binary data to dst.
func appendBinary(dst []byte, data []byte) ([]byte, error) {
	if len(data) > math.MaxUint16 {
		return dst, fmt.Errorf("binary field of %d bytes exceeds %d", len(data), math.MaxUint16)
	}
	dst = append(dst, byte(len(data)>>8), byte(len(data)))
	return append(dst, data...), nil
}

// decodeString decodes an MQTT UTF-8 string (2-byte length + data).
// Returns the string, number of bytes consumed, and any error.
func decodeString(buf []byte) (string, int, error) {
	data, n, err := decodeBinary(buf)
	if err != nil {
		return "", 0, err
	}
	s := string(data)
	if strings.IndexByte(s, 0) >= 0 {
		return "", 0, fmt.Errorf("%w: string contains U+0000", ErrMalformedPacket)
	}
	if !utf8.ValidString(s) {
		return "", 0, fmt.Errorf("%w: invalid UTF-8 string", ErrMalformedPacket)
	}
	return s, n, nil
}

// decodeBinary reads length-prefixed binary data from the buffer.
// The returned slice aliases buf.
func decodeBinary(buf []byte) ([]byte, int, error) {
	if len(buf) < 2 {
		return nil, 0, fmt.Errorf("%w: buffer too short for length prefix", ErrMalformedPacket)
	}

	length := int(buf[0])<<8 | int(buf[1])
	if len(buf) < 2+length {
		return nil, 0, fmt.Errorf("%w: need %d bytes, have %d", ErrMalformedPacket, 2+length, len(buf))
	}

	return buf[2 : 2+length], 2 + length, nil
}

// decodeUint16 reads a big-endian two byte integer.
func decodeUint16(buf []byte, field string) (uint16, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("%w: buffer too short for %s", ErrMalformedPacket, field)
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}
