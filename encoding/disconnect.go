package encoding

import (
	"io"
)

// DisconnectPacket represents an MQTT 5.0 DISCONNECT packet
type DisconnectPacket struct {
	ReasonCode ReasonCode
	Properties Properties
}

// Type returns DISCONNECT
func (p *DisconnectPacket) Type() PacketType { return DISCONNECT }

// Encode encodes an MQTT 5.0 DISCONNECT packet. When the reason code is
// normal disconnection and no properties are present the body is omitted
// entirely, per MQTT 5.0 section 3.14.2.1.
func (p *DisconnectPacket) Encode(w io.Writer) error {
	propsBytes, err := p.Properties.encodeToBytes()
	if err != nil {
		return err
	}

	var remainingLength uint32
	if p.ReasonCode != ReasonNormalDisconnection || len(propsBytes) > 1 {
		remainingLength = 1 + uint32(len(propsBytes))
	}

	fh := FixedHeader{Type: DISCONNECT, RemainingLength: remainingLength}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	if remainingLength == 0 {
		return nil
	}

	if err := writeByte(w, byte(p.ReasonCode)); err != nil {
		return err
	}
	_, err = w.Write(propsBytes)
	return err
}

// ParseDisconnectPacket parses an MQTT 5.0 DISCONNECT packet body
func ParseDisconnectPacket(r io.Reader, fh *FixedHeader) (*DisconnectPacket, error) {
	lr := &io.LimitedReader{R: r, N: int64(fh.RemainingLength)}
	pkt, err := parseDisconnect(lr, fh)
	if err != nil {
		return nil, err
	}
	if lr.N != 0 {
		return nil, ErrMalformedPacket
	}
	return pkt, nil
}

func parseDisconnect(r io.Reader, fh *FixedHeader) (*DisconnectPacket, error) {
	// Remaining length of 0 means normal disconnection
	if fh.RemainingLength == 0 {
		return &DisconnectPacket{ReasonCode: ReasonNormalDisconnection}, nil
	}

	reasonCode, err := readByte(r)
	if err != nil {
		return nil, err
	}
	pkt := &DisconnectPacket{ReasonCode: ReasonCode(reasonCode)}

	if fh.RemainingLength == 1 {
		return pkt, nil
	}

	props, err := ParseProperties(r, CtxDisconnect)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props

	return pkt, nil
}

// AuthPacket represents an MQTT 5.0 AUTH packet
type AuthPacket struct {
	ReasonCode ReasonCode
	Properties Properties
}

// Type returns AUTH
func (p *AuthPacket) Type() PacketType { return AUTH }

// Encode encodes an MQTT 5.0 AUTH packet. The reason code and property
// length are always written, so an empty success AUTH is two body bytes.
func (p *AuthPacket) Encode(w io.Writer) error {
	propsBytes, err := p.Properties.encodeToBytes()
	if err != nil {
		return err
	}

	fh := FixedHeader{
		Type:            AUTH,
		RemainingLength: 1 + uint32(len(propsBytes)),
	}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	if err := writeByte(w, byte(p.ReasonCode)); err != nil {
		return err
	}
	_, err = w.Write(propsBytes)
	return err
}

// ParseAuthPacket parses an MQTT 5.0 AUTH packet body
func ParseAuthPacket(r io.Reader, fh *FixedHeader) (*AuthPacket, error) {
	lr := &io.LimitedReader{R: r, N: int64(fh.RemainingLength)}
	pkt, err := parseAuth(lr, fh)
	if err != nil {
		return nil, err
	}
	if lr.N != 0 {
		return nil, ErrMalformedPacket
	}
	return pkt, nil
}

func parseAuth(r io.Reader, fh *FixedHeader) (*AuthPacket, error) {
	// Remaining length of 0 means reason code Success with no properties,
	// per MQTT-3.15.2.1
	if fh.RemainingLength == 0 {
		return &AuthPacket{ReasonCode: ReasonSuccess}, nil
	}

	reasonCode, err := readByte(r)
	if err != nil {
		return nil, err
	}
	pkt := &AuthPacket{ReasonCode: ReasonCode(reasonCode)}

	if fh.RemainingLength == 1 {
		return pkt, nil
	}

	props, err := ParseProperties(r, CtxAuth)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props

	return pkt, nil
}
