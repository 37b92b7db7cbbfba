package encoding

import (
	"io"
)

// The PUBACK, PUBREC, PUBREL and PUBCOMP packets share one shape: a packet
// identifier, then an optional reason code and property set. Per MQTT 5.0
// sections 3.4.2.1 and 3.4.2.2.1 a remaining length of 2 stands for reason
// code Success with no properties, and a remaining length of 3 carries the
// reason code alone. Encoding writes the remaining-length-2 form when the
// reason is Success and there are no properties; otherwise it writes the
// reason code and the property set, so the reason-only form is never produced.

// PubAckPacket represents an MQTT 5.0 PUBACK packet
type PubAckPacket struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Properties Properties
}

// PubRecPacket represents an MQTT 5.0 PUBREC packet
type PubRecPacket struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Properties Properties
}

// PubRelPacket represents an MQTT 5.0 PUBREL packet
type PubRelPacket struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Properties Properties
}

// PubCompPacket represents an MQTT 5.0 PUBCOMP packet
type PubCompPacket struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Properties Properties
}

// Type returns PUBACK
func (p *PubAckPacket) Type() PacketType { return PUBACK }

// Type returns PUBREC
func (p *PubRecPacket) Type() PacketType { return PUBREC }

// Type returns PUBREL
func (p *PubRelPacket) Type() PacketType { return PUBREL }

// Type returns PUBCOMP
func (p *PubCompPacket) Type() PacketType { return PUBCOMP }

// Encode encodes an MQTT 5.0 PUBACK packet
func (p *PubAckPacket) Encode(w io.Writer) error {
	return encodeAck(w, PUBACK, 0, p.PacketID, p.ReasonCode, &p.Properties)
}

// Encode encodes an MQTT 5.0 PUBREC packet
func (p *PubRecPacket) Encode(w io.Writer) error {
	return encodeAck(w, PUBREC, 0, p.PacketID, p.ReasonCode, &p.Properties)
}

// Encode encodes an MQTT 5.0 PUBREL packet
func (p *PubRelPacket) Encode(w io.Writer) error {
	return encodeAck(w, PUBREL, 0x02, p.PacketID, p.ReasonCode, &p.Properties)
}

// Encode encodes an MQTT 5.0 PUBCOMP packet
func (p *PubCompPacket) Encode(w io.Writer) error {
	return encodeAck(w, PUBCOMP, 0, p.PacketID, p.ReasonCode, &p.Properties)
}

// encodeAck writes an acknowledgement packet, omitting the reason code and
// property length when the reason is Success and no properties are present.
func encodeAck(w io.Writer, packetType PacketType, flags byte, packetID uint16, reasonCode ReasonCode, props *Properties) error {
	propsBytes, err := props.encodeToBytes()
	if err != nil {
		return err
	}

	shortForm := reasonCode == ReasonSuccess && len(propsBytes) == 1

	remainingLength := uint32(2)
	if !shortForm {
		remainingLength += 1 + uint32(len(propsBytes))
	}

	fh := FixedHeader{
		Type:            packetType,
		Flags:           flags,
		RemainingLength: remainingLength,
	}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	if err := writeTwoByteInt(w, packetID); err != nil {
		return err
	}

	if shortForm {
		return nil
	}

	if err := writeByte(w, byte(reasonCode)); err != nil {
		return err
	}
	_, err = w.Write(propsBytes)
	return err
}

// parseAckBody reads the shared variable header of the acknowledgement
// packets, honoring both abbreviated forms.
func parseAckBody(r io.Reader, fh *FixedHeader) (uint16, ReasonCode, Properties, error) {
	packetID, err := readTwoByteInt(r)
	if err != nil {
		return 0, 0, Properties{}, err
	}

	if fh.RemainingLength == 2 {
		return packetID, ReasonSuccess, Properties{}, nil
	}

	reasonCode, err := readByte(r)
	if err != nil {
		return 0, 0, Properties{}, err
	}

	if fh.RemainingLength == 3 {
		return packetID, ReasonCode(reasonCode), Properties{}, nil
	}

	props, err := ParseProperties(r, CtxPubAck)
	if err != nil {
		return 0, 0, Properties{}, err
	}

	return packetID, ReasonCode(reasonCode), *props, nil
}

// ParsePubAckPacket parses an MQTT 5.0 PUBACK packet body
func ParsePubAckPacket(r io.Reader, fh *FixedHeader) (*PubAckPacket, error) {
	lr := &io.LimitedReader{R: r, N: int64(fh.RemainingLength)}
	pkt, err := parsePubAck(lr, fh)
	if err != nil {
		return nil, err
	}
	if lr.N != 0 {
		return nil, ErrMalformedPacket
	}
	return pkt, nil
}

// ParsePubRecPacket parses an MQTT 5.0 PUBREC packet body
func ParsePubRecPacket(r io.Reader, fh *FixedHeader) (*PubRecPacket, error) {
	lr := &io.LimitedReader{R: r, N: int64(fh.RemainingLength)}
	pkt, err := parsePubRec(lr, fh)
	if err != nil {
		return nil, err
	}
	if lr.N != 0 {
		return nil, ErrMalformedPacket
	}
	return pkt, nil
}

// ParsePubRelPacket parses an MQTT 5.0 PUBREL packet body
func ParsePubRelPacket(r io.Reader, fh *FixedHeader) (*PubRelPacket, error) {
	lr := &io.LimitedReader{R: r, N: int64(fh.RemainingLength)}
	pkt, err := parsePubRel(lr, fh)
	if err != nil {
		return nil, err
	}
	if lr.N != 0 {
		return nil, ErrMalformedPacket
	}
	return pkt, nil
}

// ParsePubCompPacket parses an MQTT 5.0 PUBCOMP packet body
func ParsePubCompPacket(r io.Reader, fh *FixedHeader) (*PubCompPacket, error) {
	lr := &io.LimitedReader{R: r, N: int64(fh.RemainingLength)}
	pkt, err := parsePubComp(lr, fh)
	if err != nil {
		return nil, err
	}
	if lr.N != 0 {
		return nil, ErrMalformedPacket
	}
	return pkt, nil
}

func parsePubAck(r io.Reader, fh *FixedHeader) (*PubAckPacket, error) {
	packetID, reasonCode, props, err := parseAckBody(r, fh)
	if err != nil {
		return nil, err
	}
	return &PubAckPacket{PacketID: packetID, ReasonCode: reasonCode, Properties: props}, nil
}

func parsePubRec(r io.Reader, fh *FixedHeader) (*PubRecPacket, error) {
	packetID, reasonCode, props, err := parseAckBody(r, fh)
	if err != nil {
		return nil, err
	}
	return &PubRecPacket{PacketID: packetID, ReasonCode: reasonCode, Properties: props}, nil
}

func parsePubRel(r io.Reader, fh *FixedHeader) (*PubRelPacket, error) {
	packetID, reasonCode, props, err := parseAckBody(r, fh)
	if err != nil {
		return nil, err
	}
	return &PubRelPacket{PacketID: packetID, ReasonCode: reasonCode, Properties: props}, nil
}

func parsePubComp(r io.Reader, fh *FixedHeader) (*PubCompPacket, error) {
	packetID, reasonCode, props, err := parseAckBody(r, fh)
	if err != nil {
		return nil, err
	}
	return &PubCompPacket{PacketID: packetID, ReasonCode: reasonCode, Properties: props}, nil
}
