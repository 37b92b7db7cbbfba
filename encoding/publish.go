package encoding

import (
	"io"
)

// PublishPacket represents an MQTT 5.0 PUBLISH packet. The DUP, QoS and
// Retain fields are carried in the fixed-header flag nibble; the payload is
// the unprefixed remainder of the packet.
type PublishPacket struct {
	DUP        bool
	QoS        QoS
	Retain     bool
	TopicName  string
	PacketID   uint16 // Only for QoS 1 and 2
	Properties Properties
	Payload    []byte
}

// Type returns PUBLISH
func (p *PublishPacket) Type() PacketType { return PUBLISH }

// Encode encodes an MQTT 5.0 PUBLISH packet
func (p *PublishPacket) Encode(w io.Writer) error {
	if !p.QoS.IsValid() {
		return ErrInvalidQoS
	}
	if p.QoS > QoS0 && p.PacketID == 0 {
		return ErrMissingPacketID
	}

	propsBytes, err := p.Properties.encodeToBytes()
	if err != nil {
		return err
	}

	remainingLength := uint32(2+len(p.TopicName)+len(propsBytes)) + uint32(len(p.Payload))
	if p.QoS > QoS0 {
		remainingLength += 2
	}

	fh := FixedHeader{
		Type:            PUBLISH,
		RemainingLength: remainingLength,
		DUP:             p.DUP,
		QoS:             p.QoS,
		Retain:          p.Retain,
	}
	fh.Flags = fh.BuildPublishFlags()

	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	if err := writeUTF8String(w, p.TopicName); err != nil {
		return err
	}

	if p.QoS > QoS0 {
		if err := writeTwoByteInt(w, p.PacketID); err != nil {
			return err
		}
	}

	if _, err := w.Write(propsBytes); err != nil {
		return err
	}

	// Payload is written raw; its length is implied by the remaining length
	if len(p.Payload) > 0 {
		if _, err := w.Write(p.Payload); err != nil {
			return err
		}
	}

	return nil
}

// ParsePublishPacket parses an MQTT 5.0 PUBLISH packet body
func ParsePublishPacket(r io.Reader, fh *FixedHeader) (*PublishPacket, error) {
	lr := &io.LimitedReader{R: r, N: int64(fh.RemainingLength)}
	pkt, err := parsePublish(lr, fh)
	if err != nil {
		return nil, err
	}
	if lr.N != 0 {
		return nil, ErrMalformedPacket
	}
	return pkt, nil
}

func parsePublish(lr *io.LimitedReader, fh *FixedHeader) (*PublishPacket, error) {
	pkt := &PublishPacket{
		DUP:    fh.DUP,
		QoS:    fh.QoS,
		Retain: fh.Retain,
	}

	topicName, err := readUTF8String(lr)
	if err != nil {
		return nil, err
	}
	pkt.TopicName = topicName

	if fh.QoS > QoS0 {
		packetID, err := readTwoByteInt(lr)
		if err != nil {
			return nil, err
		}
		if packetID == 0 {
			return nil, ErrInvalidPacketIDZero
		}
		pkt.PacketID = packetID
	}

	props, err := ParseProperties(lr, CtxPublish)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props

	// Whatever is left of the declared remaining length is the payload
	if lr.N > 0 {
		payload := make([]byte, lr.N)
		if _, err := io.ReadFull(lr, payload); err != nil {
			return nil, ErrUnexpectedEOF
		}
		pkt.Payload = payload
	}

	return pkt, nil
}
