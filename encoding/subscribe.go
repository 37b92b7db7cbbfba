package encoding

import (
	"io"
)

// Subscription represents a single entry in a SUBSCRIBE packet payload
type Subscription struct {
	TopicFilter       string
	QoS               QoS
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte // 0, 1 or 2
}

// options assembles the subscription options byte, per MQTT 5.0
// specification section 3.8.3.1.
func (s *Subscription) options() (byte, error) {
	if !s.QoS.IsValid() || s.RetainHandling > 2 {
		return 0, ErrInvalidSubscriptionOpts
	}

	opts := byte(s.QoS)
	if s.NoLocal {
		opts |= 0x04
	}
	if s.RetainAsPublished {
		opts |= 0x08
	}
	opts |= s.RetainHandling << 4
	return opts, nil
}

func parseSubscriptionOptions(opts byte) (Subscription, error) {
	sub := Subscription{
		QoS:               QoS(opts & 0x03),
		NoLocal:           opts&0x04 != 0,
		RetainAsPublished: opts&0x08 != 0,
		RetainHandling:    (opts & 0x30) >> 4,
	}

	// Bits 6-7 are reserved and must be 0
	if opts&0xC0 != 0 {
		return Subscription{}, ErrInvalidSubscriptionOpts
	}
	if !sub.QoS.IsValid() || sub.RetainHandling > 2 {
		return Subscription{}, ErrInvalidSubscriptionOpts
	}

	return sub, nil
}

// SubscribePacket represents an MQTT 5.0 SUBSCRIBE packet
type SubscribePacket struct {
	PacketID      uint16
	Properties    Properties
	Subscriptions []Subscription
}

// Type returns SUBSCRIBE
func (p *SubscribePacket) Type() PacketType { return SUBSCRIBE }

// Encode encodes an MQTT 5.0 SUBSCRIBE packet. A SUBSCRIBE packet with no
// subscriptions is a protocol error.
func (p *SubscribePacket) Encode(w io.Writer) error {
	if len(p.Subscriptions) == 0 {
		return ErrEmptySubscriptionList
	}

	propsBytes, err := p.Properties.encodeToBytes()
	if err != nil {
		return err
	}

	remainingLength := uint32(2 + len(propsBytes))
	for i := range p.Subscriptions {
		remainingLength += uint32(2 + len(p.Subscriptions[i].TopicFilter) + 1)
	}

	fh := FixedHeader{
		Type:            SUBSCRIBE,
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

	for i := range p.Subscriptions {
		opts, err := p.Subscriptions[i].options()
		if err != nil {
			return err
		}
		if err := writeUTF8String(w, p.Subscriptions[i].TopicFilter); err != nil {
			return err
		}
		if err := writeByte(w, opts); err != nil {
			return err
		}
	}

	return nil
}

// ParseSubscribePacket parses an MQTT 5.0 SUBSCRIBE packet body
func ParseSubscribePacket(r io.Reader, fh *FixedHeader) (*SubscribePacket, error) {
	lr := &io.LimitedReader{R: r, N: int64(fh.RemainingLength)}
	pkt, err := parseSubscribe(lr, fh)
	if err != nil {
		return nil, err
	}
	if lr.N != 0 {
		return nil, ErrMalformedPacket
	}
	return pkt, nil
}

func parseSubscribe(lr *io.LimitedReader, _ *FixedHeader) (*SubscribePacket, error) {
	packetID, err := readTwoByteInt(lr)
	if err != nil {
		return nil, err
	}

	props, err := ParseProperties(lr, CtxSubscribe)
	if err != nil {
		return nil, err
	}

	pkt := &SubscribePacket{PacketID: packetID, Properties: *props}

	// The variable header and properties consuming the whole declared length
	// leaves no topics, which the protocol forbids
	if lr.N == 0 {
		return nil, ErrEmptySubscriptionList
	}

	for lr.N > 0 {
		topicFilter, err := readUTF8String(lr)
		if err != nil {
			return nil, err
		}

		opts, err := readByte(lr)
		if err != nil {
			return nil, err
		}

		sub, err := parseSubscriptionOptions(opts)
		if err != nil {
			return nil, err
		}
		sub.TopicFilter = topicFilter

		pkt.Subscriptions = append(pkt.Subscriptions, sub)
	}

	return pkt, nil
}

// SubAckPacket represents an MQTT 5.0 SUBACK packet. ReasonCodes carries one
// entry per topic filter of the corresponding SUBSCRIBE, in request order.
type SubAckPacket struct {
	PacketID    uint16
	Properties  Properties
	ReasonCodes []ReasonCode
}

// Type returns SUBACK
func (p *SubAckPacket) Type() PacketType { return SUBACK }

// Encode encodes an MQTT 5.0 SUBACK packet
func (p *SubAckPacket) Encode(w io.Writer) error {
	return encodeListAck(w, SUBACK, p.PacketID, p.ReasonCodes, &p.Properties)
}

// encodeListAck writes a SUBACK or UNSUBACK: packet identifier, properties,
// then one reason code per requested topic.
func encodeListAck(w io.Writer, packetType PacketType, packetID uint16, reasonCodes []ReasonCode, props *Properties) error {
	propsBytes, err := props.encodeToBytes()
	if err != nil {
		return err
	}

	fh := FixedHeader{
		Type:            packetType,
		RemainingLength: uint32(2 + len(propsBytes) + len(reasonCodes)),
	}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	if err := writeTwoByteInt(w, packetID); err != nil {
		return err
	}
	if _, err := w.Write(propsBytes); err != nil {
		return err
	}

	for _, rc := range reasonCodes {
		if err := writeByte(w, byte(rc)); err != nil {
			return err
		}
	}

	return nil
}

// ParseSubAckPacket parses an MQTT 5.0 SUBACK packet body
func ParseSubAckPacket(r io.Reader, fh *FixedHeader) (*SubAckPacket, error) {
	lr := &io.LimitedReader{R: r, N: int64(fh.RemainingLength)}
	pkt, err := parseSubAck(lr, fh)
	if err != nil {
		return nil, err
	}
	if lr.N != 0 {
		return nil, ErrMalformedPacket
	}
	return pkt, nil
}

func parseSubAck(lr *io.LimitedReader, _ *FixedHeader) (*SubAckPacket, error) {
	packetID, err := readTwoByteInt(lr)
	if err != nil {
		return nil, err
	}

	props, err := ParseProperties(lr, CtxSubAck)
	if err != nil {
		return nil, err
	}

	pkt := &SubAckPacket{PacketID: packetID, Properties: *props}

	for lr.N > 0 {
		rc, err := readByte(lr)
		if err != nil {
			return nil, err
		}
		pkt.ReasonCodes = append(pkt.ReasonCodes, ReasonCode(rc))
	}

	return pkt, nil
}
