package encoding

import (
	"io"
)

// UnsubscribePacket represents an MQTT 5.0 UNSUBSCRIBE packet
type UnsubscribePacket struct {
	PacketID     uint16
	Properties   Properties
	TopicFilters []string
}

// Type returns UNSUBSCRIBE
func (p *UnsubscribePacket) Type() PacketType { return UNSUBSCRIBE }

// Encode encodes an MQTT 5.0 UNSUBSCRIBE packet. An UNSUBSCRIBE packet with
// no topic filters is a protocol error.
func (p *UnsubscribePacket) Encode(w io.Writer) error {
	if len(p.TopicFilters) == 0 {
		return ErrEmptyUnsubscribeList
	}

	propsBytes, err := p.Properties.encodeToBytes()
	if err != nil {
		return err
	}

	remainingLength := uint32(2 + len(propsBytes))
	for _, topic := range p.TopicFilters {
		remainingLength += uint32(2 + len(topic))
	}

	fh := FixedHeader{
		Type:            UNSUBSCRIBE,
		Flags:           0x02, // Reserved flags must be 0010
		RemainingLength: remainingLength,
	}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	if err := writeTwoByteInt(w, p.PacketID); err != nil {
		return err
	}
	if _, err := w.Write(propsBytes); err != nil {
		return err
	}

	for _, topic := range p.TopicFilters {
		if err := writeUTF8String(w, topic); err != nil {
			return err
		}
	}

	return nil
}

// ParseUnsubscribePacket parses an MQTT 5.0 UNSUBSCRIBE packet body
func ParseUnsubscribePacket(r io.Reader, fh *FixedHeader) (*UnsubscribePacket, error) {
	lr := &io.LimitedReader{R: r, N: int64(fh.RemainingLength)}
	pkt, err := parseUnsubscribe(lr, fh)
	if err != nil {
		return nil, err
	}
	if lr.N != 0 {
		return nil, ErrMalformedPacket
	}
	return pkt, nil
}

func parseUnsubscribe(lr *io.LimitedReader, _ *FixedHeader) (*UnsubscribePacket, error) {
	packetID, err := readTwoByteInt(lr)
	if err != nil {
		return nil, err
	}

	props, err := ParseProperties(lr, CtxUnsubscribe)
	if err != nil {
		return nil, err
	}

	pkt := &UnsubscribePacket{PacketID: packetID, Properties: *props}

	if lr.N == 0 {
		return nil, ErrEmptyUnsubscribeList
	}

	for lr.N > 0 {
		topicFilter, err := readUTF8String(lr)
		if err != nil {
			return nil, err
		}
		pkt.TopicFilters = append(pkt.TopicFilters, topicFilter)
	}

	return pkt, nil
}

// UnsubAckPacket represents an MQTT 5.0 UNSUBACK packet
type UnsubAckPacket struct {
	PacketID    uint16
	Properties  Properties
	ReasonCodes []ReasonCode
}

// Type returns UNSUBACK
func (p *UnsubAckPacket) Type() PacketType { return UNSUBACK }

// Encode encodes an MQTT 5.0 UNSUBACK packet
func (p *UnsubAckPacket) Encode(w io.Writer) error {
	return encodeListAck(w, UNSUBACK, p.PacketID, p.ReasonCodes, &p.Properties)
}

// ParseUnsubAckPacket parses an MQTT 5.0 UNSUBACK packet body
func ParseUnsubAckPacket(r io.Reader, fh *FixedHeader) (*UnsubAckPacket, error) {
	lr := &io.LimitedReader{R: r, N: int64(fh.RemainingLength)}
	pkt, err := parseUnsubAck(lr, fh)
	if err != nil {
		return nil, err
	}
	if lr.N != 0 {
		return nil, ErrMalformedPacket
	}
	return pkt, nil
}

func parseUnsubAck(lr *io.LimitedReader, _ *FixedHeader) (*UnsubAckPacket, error) {
	packetID, err := readTwoByteInt(lr)
	if err != nil {
		return nil, err
	}

	props, err := ParseProperties(lr, CtxSubAck)
	if err != nil {
		return nil, err
	}

	pkt := &UnsubAckPacket{PacketID: packetID, Properties: *props}

	for lr.N > 0 {
		rc, err := readByte(lr)
		if err != nil {
			return nil, err
		}
		pkt.ReasonCodes = append(pkt.ReasonCodes, ReasonCode(rc))
	}

	return pkt, nil
}
