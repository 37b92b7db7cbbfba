package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axmq/axon/encoding"
)

func connackWith(t *testing.T, set func(p *encoding.Properties)) *encoding.ConnAckPacket {
	t.Helper()
	connack := &encoding.ConnAckPacket{ReasonCode: encoding.ReasonSuccess}
	if set != nil {
		set(&connack.Properties)
	}
	return connack
}

func newState(t *testing.T) *State {
	t.Helper()
	s := New("dev-1", true, false, 10)
	s.ApplyConnAck(connackWith(t, func(p *encoding.Properties) {
		require.NoError(t, p.Add(encoding.PropReceiveMaximum, uint16(32)))
		require.NoError(t, p.Add(encoding.PropTopicAliasMaximum, uint16(5)))
	}), 30)
	return s
}

func TestApplyConnAckDefaults(t *testing.T) {
	s := New("dev-1", true, false, 0)
	s.ApplyConnAck(connackWith(t, nil), 60)

	// Absent properties fall back to the standard defaults
	assert.Equal(t, uint16(65535), s.ServerReceiveMaximum())
	assert.Equal(t, uint32(0), s.MaxOutgoingPacketSize())
	assert.Equal(t, uint16(60), s.EffectiveKeepAlive())
	assert.NotNil(t, s.PacketIDs())
}

func TestApplyConnAckOverrides(t *testing.T) {
	s := New("", true, false, 0)
	s.ApplyConnAck(connackWith(t, func(p *encoding.Properties) {
		require.NoError(t, p.Add(encoding.PropReceiveMaximum, uint16(10)))
		require.NoError(t, p.Add(encoding.PropMaximumPacketSize, uint32(2048)))
		require.NoError(t, p.Add(encoding.PropServerKeepAlive, uint16(15)))
		require.NoError(t, p.Add(encoding.PropAssignedClientIdentifier, "auto-1"))
	}), 60)

	assert.Equal(t, uint16(10), s.ServerReceiveMaximum())
	assert.Equal(t, uint32(2048), s.MaxOutgoingPacketSize())
	assert.Equal(t, uint16(15), s.EffectiveKeepAlive(), "server keep-alive overrides the requested value")
	assert.Equal(t, "auto-1", s.ClientID())
	assert.EqualValues(t, 10, s.PacketIDs().Capacity())
}

func TestOutgoingQoS1Flow(t *testing.T) {
	s := newState(t)
	id, ok := s.PacketIDs().Allocate()
	require.True(t, ok)

	pub := &encoding.PublishPacket{QoS: encoding.QoS1, PacketID: id, TopicName: "a"}
	require.NoError(t, s.HandleOutgoingPublish(pub))
	assert.Equal(t, 1, s.InflightCount())

	// Reusing the identifier while inflight is a conflict
	dup := &encoding.PublishPacket{QoS: encoding.QoS1, PacketID: id, TopicName: "b"}
	assert.ErrorIs(t, s.HandleOutgoingPublish(dup), ErrPacketIDConflict)

	require.NoError(t, s.HandlePubAck(id))
	assert.Equal(t, 0, s.InflightCount())
	assert.False(t, s.PacketIDs().IsAllocated(id), "terminal ack releases the identifier")

	assert.ErrorIs(t, s.HandlePubAck(id), ErrUnknownPacketID)
}

func TestOutgoingQoS2Flow(t *testing.T) {
	s := newState(t)
	id, ok := s.PacketIDs().Allocate()
	require.True(t, ok)

	pub := &encoding.PublishPacket{QoS: encoding.QoS2, PacketID: id, TopicName: "a"}
	require.NoError(t, s.HandleOutgoingPublish(pub))

	sendRel, err := s.HandlePubRec(id, encoding.ReasonSuccess)
	require.NoError(t, err)
	assert.True(t, sendRel)
	assert.True(t, s.PacketIDs().IsAllocated(id), "identifier held until PUBCOMP")
	assert.Equal(t, 1, s.InflightCount())

	require.NoError(t, s.HandlePubComp(id))
	assert.False(t, s.PacketIDs().IsAllocated(id))
	assert.Equal(t, 0, s.InflightCount())
}

func TestOutgoingQoS2AbortOnErrorReason(t *testing.T) {
	s := newState(t)
	id, ok := s.PacketIDs().Allocate()
	require.True(t, ok)

	pub := &encoding.PublishPacket{QoS: encoding.QoS2, PacketID: id, TopicName: "a"}
	require.NoError(t, s.HandleOutgoingPublish(pub))

	sendRel, err := s.HandlePubRec(id, encoding.ReasonQuotaExceeded)
	require.NoError(t, err)
	assert.False(t, sendRel, "error reason aborts the flow")
	assert.False(t, s.PacketIDs().IsAllocated(id), "aborted flow releases the identifier")
}

func TestDupResendKeepsRegistration(t *testing.T) {
	s := newState(t)
	id, ok := s.PacketIDs().Allocate()
	require.True(t, ok)

	pub := &encoding.PublishPacket{QoS: encoding.QoS1, PacketID: id, TopicName: "a"}
	require.NoError(t, s.HandleOutgoingPublish(pub))

	resend := &encoding.PublishPacket{QoS: encoding.QoS1, PacketID: id, TopicName: "a", DUP: true}
	require.NoError(t, s.HandleOutgoingPublish(resend))
	assert.Equal(t, 1, s.InflightCount())
}

func TestIncomingQoS2Dedup(t *testing.T) {
	s := newState(t)

	pub := &encoding.PublishPacket{QoS: encoding.QoS2, PacketID: 7, TopicName: "a"}
	deliver, err := s.HandleIncomingPublish(pub)
	require.NoError(t, err)
	assert.True(t, deliver)

	// Redelivery before PUBREL: acknowledge again, do not deliver again
	deliver, err = s.HandleIncomingPublish(pub)
	require.NoError(t, err)
	assert.False(t, deliver)

	assert.True(t, s.HandleIncomingPubRel(7))

	// After PUBREL the identifier may be reused by the server
	deliver, err = s.HandleIncomingPublish(pub)
	require.NoError(t, err)
	assert.True(t, deliver)
}

func TestOutgoingTopicAlias(t *testing.T) {
	s := newState(t) // server topic alias max is 5

	okPub := &encoding.PublishPacket{TopicName: "sensors/t1"}
	require.NoError(t, okPub.Properties.Add(encoding.PropTopicAlias, uint16(3)))
	require.NoError(t, s.HandleOutgoingPublish(okPub))

	zero := &encoding.PublishPacket{TopicName: "sensors/t1"}
	require.NoError(t, zero.Properties.Add(encoding.PropTopicAlias, uint16(0)))
	err := s.HandleOutgoingPublish(zero)
	assert.ErrorIs(t, err, encoding.ErrInvalidTopicAlias)
	assert.Equal(t, encoding.ReasonProtocolError, encoding.GetReasonCode(err))

	tooBig := &encoding.PublishPacket{TopicName: "sensors/t1"}
	require.NoError(t, tooBig.Properties.Add(encoding.PropTopicAlias, uint16(6)))
	assert.ErrorIs(t, s.HandleOutgoingPublish(tooBig), encoding.ErrInvalidTopicAlias)
}

func TestIncomingTopicAlias(t *testing.T) {
	s := newState(t) // accepts inbound aliases up to 10

	register := &encoding.PublishPacket{TopicName: "plant/line1"}
	require.NoError(t, register.Properties.Add(encoding.PropTopicAlias, uint16(4)))
	deliver, err := s.HandleIncomingPublish(register)
	require.NoError(t, err)
	require.True(t, deliver)

	// Empty topic resolves through the registered alias
	resolve := &encoding.PublishPacket{}
	require.NoError(t, resolve.Properties.Add(encoding.PropTopicAlias, uint16(4)))
	deliver, err = s.HandleIncomingPublish(resolve)
	require.NoError(t, err)
	require.True(t, deliver)
	assert.Equal(t, "plant/line1", resolve.TopicName)

	// Alias 0 is a protocol error
	zero := &encoding.PublishPacket{TopicName: "x"}
	require.NoError(t, zero.Properties.Add(encoding.PropTopicAlias, uint16(0)))
	_, err = s.HandleIncomingPublish(zero)
	assert.ErrorIs(t, err, encoding.ErrInvalidTopicAlias)

	// Alias above the maximum this client advertised is a protocol error
	tooBig := &encoding.PublishPacket{TopicName: "x"}
	require.NoError(t, tooBig.Properties.Add(encoding.PropTopicAlias, uint16(11)))
	_, err = s.HandleIncomingPublish(tooBig)
	assert.ErrorIs(t, err, encoding.ErrInvalidTopicAlias)

	// Unregistered alias with an empty topic cannot resolve
	unknown := &encoding.PublishPacket{}
	require.NoError(t, unknown.Properties.Add(encoding.PropTopicAlias, uint16(9)))
	_, err = s.HandleIncomingPublish(unknown)
	assert.ErrorIs(t, err, ErrUnknownTopicAlias)
}

func TestSubscribeFlow(t *testing.T) {
	s := newState(t)
	id, ok := s.PacketIDs().Allocate()
	require.True(t, ok)

	require.NoError(t, s.RegisterSubscribe(id))
	assert.ErrorIs(t, s.RegisterSubscribe(id), ErrPacketIDConflict)

	require.NoError(t, s.HandleSubAck(id))
	assert.False(t, s.PacketIDs().IsAllocated(id))
	assert.ErrorIs(t, s.HandleSubAck(id), ErrUnknownPacketID)
}

func TestUnsubscribeFlow(t *testing.T) {
	s := newState(t)
	id, ok := s.PacketIDs().Allocate()
	require.True(t, ok)

	require.NoError(t, s.RegisterUnsubscribe(id))
	require.NoError(t, s.HandleUnsubAck(id))
	assert.False(t, s.PacketIDs().IsAllocated(id))
}

func TestPendingResend(t *testing.T) {
	s := newState(t)

	id1, _ := s.PacketIDs().Allocate()
	id2, _ := s.PacketIDs().Allocate()

	require.NoError(t, s.HandleOutgoingPublish(&encoding.PublishPacket{QoS: encoding.QoS1, PacketID: id1, TopicName: "a"}))
	require.NoError(t, s.HandleOutgoingPublish(&encoding.PublishPacket{QoS: encoding.QoS2, PacketID: id2, TopicName: "b"}))

	sendRel, err := s.HandlePubRec(id2, encoding.ReasonSuccess)
	require.NoError(t, err)
	require.True(t, sendRel)

	resend := s.PendingResend()
	require.Len(t, resend, 1)
	assert.True(t, resend[0].DUP, "resent publishes carry DUP")
	assert.Equal(t, id1, resend[0].PacketID)

	rel := s.PendingRelease()
	assert.Equal(t, []uint16{id2}, rel)
}

func TestReconnectReconciliation(t *testing.T) {
	s := New("dev-1", false, false, 0)
	s.ApplyConnAck(connackWith(t, nil), 0)

	id, _ := s.PacketIDs().Allocate()
	require.NoError(t, s.HandleOutgoingPublish(&encoding.PublishPacket{QoS: encoding.QoS1, PacketID: id, TopicName: "a"}))

	// New CONNACK after a reconnect: the inflight identifier is re-reserved
	// on the fresh allocator
	s.ApplyConnAck(connackWith(t, func(p *encoding.Properties) {
		require.NoError(t, p.Add(encoding.PropReceiveMaximum, uint16(8)))
	}), 0)

	assert.True(t, s.PacketIDs().IsAllocated(id))
	assert.Equal(t, 1, s.InflightCount())
}
