package encoding

import (
	"io"
)

// PingReqPacket represents an MQTT 5.0 PINGREQ packet
type PingReqPacket struct{}

// PingRespPacket represents an MQTT 5.0 PINGRESP packet
type PingRespPacket struct{}

// Type returns PINGREQ
func (p *PingReqPacket) Type() PacketType { return PINGREQ }

// Type returns PINGRESP
func (p *PingRespPacket) Type() PacketType { return PINGRESP }

// Encode encodes an MQTT 5.0 PINGREQ packet
func (p *PingReqPacket) Encode(w io.Writer) error {
	fh := FixedHeader{Type: PINGREQ}
	return fh.EncodeFixedHeader(w)
}

// Encode encodes an MQTT 5.0 PINGRESP packet
func (p *PingRespPacket) Encode(w io.Writer) error {
	fh := FixedHeader{Type: PINGRESP}
	return fh.EncodeFixedHeader(w)
}

func parsePingReq(_ io.Reader, fh *FixedHeader) (*PingReqPacket, error) {
	if fh.RemainingLength != 0 {
		return nil, ErrMalformedPacket
	}
	return &PingReqPacket{}, nil
}

func parsePingResp(_ io.Reader, fh *FixedHeader) (*PingRespPacket, error) {
	if fh.RemainingLength != 0 {
		return nil, ErrMalformedPacket
	}
	return &PingRespPacket{}, nil
}
