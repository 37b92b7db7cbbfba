package encoding

import (
	"io"
)

// CONNECT flag bits, per MQTT 5.0 specification section 3.1.2.3
const (
	connectFlagCleanStart byte = 0x02
	connectFlagWill       byte = 0x04
	connectFlagWillQoS    byte = 0x18
	connectFlagWillRetain byte = 0x20
	connectFlagPassword   byte = 0x40
	connectFlagUsername   byte = 0x80
)

// Will is the message the server publishes on behalf of the client when the
// connection terminates abnormally.
type Will struct {
	Topic      string
	Payload    []byte
	QoS        QoS
	Retain     bool
	Properties Properties
}

// ConnectPacket represents an MQTT 5.0 CONNECT packet
type ConnectPacket struct {
	CleanStart   bool
	KeepAlive    uint16
	Properties   Properties
	ClientID     string
	Will         *Will
	UsernameFlag bool
	Username     string
	PasswordFlag bool
	Password     []byte
}

// Type returns CONNECT
func (p *ConnectPacket) Type() PacketType { return CONNECT }

func (p *ConnectPacket) connectFlags() (byte, error) {
	var flags byte
	if p.CleanStart {
		flags |= connectFlagCleanStart
	}
	if p.Will != nil {
		if !p.Will.QoS.IsValid() {
			return 0, ErrInvalidWillQoS
		}
		flags |= connectFlagWill
		flags |= byte(p.Will.QoS) << 3
		if p.Will.Retain {
			flags |= connectFlagWillRetain
		}
	}
	if p.PasswordFlag {
		if !p.UsernameFlag {
			return 0, ErrPasswordWithoutUsername
		}
		flags |= connectFlagPassword
	}
	if p.UsernameFlag {
		flags |= connectFlagUsername
	}
	return flags, nil
}

// Encode encodes an MQTT 5.0 CONNECT packet
func (p *ConnectPacket) Encode(w io.Writer) error {
	flags, err := p.connectFlags()
	if err != nil {
		return err
	}

	propsBytes, err := p.Properties.encodeToBytes()
	if err != nil {
		return err
	}

	// Variable header: protocol name, level, flags, keep alive, properties
	remainingLength := uint32(2+len(ProtocolName)+1+1+2) + uint32(len(propsBytes))

	// Payload: client identifier, will, username, password
	remainingLength += uint32(2 + len(p.ClientID))

	var willPropsBytes []byte
	if p.Will != nil {
		willPropsBytes, err = p.Will.Properties.encodeToBytes()
		if err != nil {
			return err
		}
		remainingLength += uint32(len(willPropsBytes))
		remainingLength += uint32(2 + len(p.Will.Topic))
		remainingLength += uint32(2 + len(p.Will.Payload))
	}
	if p.UsernameFlag {
		remainingLength += uint32(2 + len(p.Username))
	}
	if p.PasswordFlag {
		remainingLength += uint32(2 + len(p.Password))
	}

	fh := FixedHeader{Type: CONNECT, RemainingLength: remainingLength}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	if err := writeUTF8String(w, ProtocolName); err != nil {
		return err
	}
	if err := writeByte(w, ProtocolLevel); err != nil {
		return err
	}
	if err := writeByte(w, flags); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, p.KeepAlive); err != nil {
		return err
	}
	if _, err := w.Write(propsBytes); err != nil {
		return err
	}

	if err := writeUTF8String(w, p.ClientID); err != nil {
		return err
	}
	if p.Will != nil {
		if _, err := w.Write(willPropsBytes); err != nil {
			return err
		}
		if err := writeUTF8String(w, p.Will.Topic); err != nil {
			return err
		}
		if err := writeBinaryData(w, p.Will.Payload); err != nil {
			return err
		}
	}
	if p.UsernameFlag {
		if err := writeUTF8String(w, p.Username); err != nil {
			return err
		}
	}
	if p.PasswordFlag {
		if err := writeBinaryData(w, p.Password); err != nil {
			return err
		}
	}

	return nil
}

// ParseConnectPacket parses an MQTT 5.0 CONNECT packet body
func ParseConnectPacket(r io.Reader, fh *FixedHeader) (*ConnectPacket, error) {
	lr := &io.LimitedReader{R: r, N: int64(fh.RemainingLength)}
	pkt, err := parseConnect(lr, fh)
	if err != nil {
		return nil, err
	}
	if lr.N != 0 {
		return nil, ErrMalformedPacket
	}
	return pkt, nil
}

func parseConnect(r io.Reader, _ *FixedHeader) (*ConnectPacket, error) {
	protocolName, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}
	if protocolName != ProtocolName {
		return nil, ErrInvalidProtocolName
	}

	level, err := readByte(r)
	if err != nil {
		return nil, err
	}
	if level != ProtocolLevel {
		return nil, ErrInvalidProtocolVersion
	}

	flags, err := readByte(r)
	if err != nil {
		return nil, err
	}

	// Reserved bit (bit 0) must be 0
	if flags&0x01 != 0 {
		return nil, ErrInvalidConnectFlags
	}

	willFlag := flags&connectFlagWill != 0
	willQoS := QoS((flags & connectFlagWillQoS) >> 3)
	willRetain := flags&connectFlagWillRetain != 0
	if !willQoS.IsValid() {
		return nil, ErrInvalidWillQoS
	}
	if !willFlag && (willQoS != QoS0 || willRetain) {
		return nil, ErrWillFlagMismatch
	}

	pkt := &ConnectPacket{
		CleanStart:   flags&connectFlagCleanStart != 0,
		UsernameFlag: flags&connectFlagUsername != 0,
		PasswordFlag: flags&connectFlagPassword != 0,
	}
	if pkt.PasswordFlag && !pkt.UsernameFlag {
		return nil, ErrPasswordWithoutUsername
	}

	keepAlive, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	pkt.KeepAlive = keepAlive

	props, err := ParseProperties(r, CtxConnect)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props

	clientID, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}
	pkt.ClientID = clientID

	if willFlag {
		will := &Will{QoS: willQoS, Retain: willRetain}

		willProps, err := ParseProperties(r, CtxWill)
		if err != nil {
			return nil, err
		}
		will.Properties = *willProps

		if will.Topic, err = readUTF8String(r); err != nil {
			return nil, err
		}
		if will.Payload, err = readBinaryData(r); err != nil {
			return nil, err
		}

		pkt.Will = will
	}

	if pkt.UsernameFlag {
		if pkt.Username, err = readUTF8String(r); err != nil {
			return nil, err
		}
	}
	if pkt.PasswordFlag {
		if pkt.Password, err = readBinaryData(r); err != nil {
			return nil, err
		}
	}

	return pkt, nil
}
