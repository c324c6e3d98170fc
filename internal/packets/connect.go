package packets

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ConnectPacket represents an MQTT CONNECT control packet.
type ConnectPacket struct {
	// Variable header
	ProtocolName  string // "MQTT"
	ProtocolLevel uint8  // 4 for v3.1.1

	// Connect flags
	CleanSession bool
	WillFlag     bool
	WillQoS      uint8
	WillRetain   bool
	PasswordFlag bool
	UsernameFlag bool

	KeepAlive uint16 // seconds

	// Payload
	ClientID    string
	WillTopic   string
	WillMessage []byte
	Username    string
	Password    string
}

// Type returns the packet type.
func (p *ConnectPacket) Type() uint8 {
	return CONNECT
}

func (p *ConnectPacket) flags() uint8 {
	var f uint8
	if p.CleanSession {
		f |= 0x02
	}
	if p.WillFlag {
		f |= 0x04
		f |= (p.WillQoS & 0x03) << 3
		if p.WillRetain {
			f |= 0x20
		}
	}
	if p.PasswordFlag {
		f |= 0x40
	}
	if p.UsernameFlag {
		f |= 0x80
	}
	return f
}

// Encode serializes the CONNECT packet into dst.
func (p *ConnectPacket) Encode(dst []byte) ([]byte, error) {
	name := p.ProtocolName
	if name == "" {
		name = ProtocolName
	}
	level := p.ProtocolLevel
	if level == 0 {
		level = ProtocolLevel
	}

	remaining := 2 + len(name) + 1 + 1 + 2 + 2 + len(p.ClientID)
	if p.WillFlag {
		remaining += 2 + len(p.WillTopic) + 2 + len(p.WillMessage)
	}
	if p.UsernameFlag {
		remaining += 2 + len(p.Username)
	}
	if p.PasswordFlag {
		remaining += 2 + len(p.Password)
	}

	header := FixedHeader{PacketType: CONNECT, RemainingLength: remaining}
	dst, err := header.appendBytes(dst)
	if err != nil {
		return dst, err
	}

	if dst, err = appendString(dst, name); err != nil {
		return dst, err
	}
	dst = append(dst, level, p.flags())
	dst = binary.BigEndian.AppendUint16(dst, p.KeepAlive)

	if dst, err = appendString(dst, p.ClientID); err != nil {
		return dst, fmt.Errorf("client id: %w", err)
	}
	if p.WillFlag {
		if dst, err = appendString(dst, p.WillTopic); err != nil {
			return dst, fmt.Errorf("will topic: %w", err)
		}
		if dst, err = appendBinary(dst, p.WillMessage); err != nil {
			return dst, fmt.Errorf("will message: %w", err)
		}
	}
	if p.UsernameFlag {
		if dst, err = appendString(dst, p.Username); err != nil {
			return dst, fmt.Errorf("username: %w", err)
		}
	}
	if p.PasswordFlag {
		if dst, err = appendString(dst, p.Password); err != nil {
			return dst, fmt.Errorf("password: %w", err)
		}
	}
	return dst, nil
}

// WriteTo writes the CONNECT packet to the writer.
func (p *ConnectPacket) WriteTo(w io.Writer) (int64, error) {
	return writeEncoded(w, p)
}

// DecodeConnect decodes a CONNECT packet from the remaining bytes.
func DecodeConnect(buf []byte) (*ConnectPacket, error) {
	pkt := &ConnectPacket{}
	offset := 0

	protocolName, n, err := decodeString(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode protocol name: %w", err)
	}
	pkt.ProtocolName = protocolName
	offset += n

	if offset+4 > len(buf) {
		return nil, fmt.Errorf("%w: CONNECT variable header truncated", ErrMalformedPacket)
	}
	pkt.ProtocolLevel = buf[offset]
	connectFlags := buf[offset+1]
	pkt.KeepAlive = binary.BigEndian.Uint16(buf[offset+2:])
	offset += 4

	if connectFlags&0x01 != 0 {
		return nil, fmt.Errorf("%w: CONNECT reserved flag set", ErrMalformedPacket)
	}
	pkt.CleanSession = connectFlags&0x02 != 0
	pkt.WillFlag = connectFlags&0x04 != 0
	pkt.WillQoS = (connectFlags >> 3) & 0x03
	pkt.WillRetain = connectFlags&0x20 != 0
	pkt.PasswordFlag = connectFlags&0x40 != 0
	pkt.UsernameFlag = connectFlags&0x80 != 0

	if pkt.WillQoS == 3 {
		return nil, fmt.Errorf("%w: will QoS 3", ErrMalformedPacket)
	}

	clientID, n, err := decodeString(buf[offset:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode client ID: %w", err)
	}
	pkt.ClientID = clientID
	offset += n

	if pkt.WillFlag {
		willTopic, n, err := decodeString(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode will topic: %w", err)
		}
		pkt.WillTopic = willTopic
		offset += n

		willMessage, n, err := decodeBinary(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode will message: %w", err)
		}
		pkt.WillMessage = append([]byte(nil), willMessage...)
		offset += n
	}

	if pkt.UsernameFlag {
		username, n, err := decodeString(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode username: %w", err)
		}
		pkt.Username = username
		offset += n
	}

	if pkt.PasswordFlag {
		password, _, err := decodeString(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode password: %w", err)
		}
		pkt.Password = password
	}

	return pkt, nil
}
