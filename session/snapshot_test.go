package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axmq/axon/encoding"
)

func TestSnapshotRestore(t *testing.T) {
	s := newState(t)

	id1, _ := s.PacketIDs().Allocate()
	id2, _ := s.PacketIDs().Allocate()

	pub := &encoding.PublishPacket{
		QoS:       encoding.QoS1,
		PacketID:  id1,
		TopicName: "plant/line2",
		Payload:   []byte("reading=42"),
	}
	require.NoError(t, pub.Properties.Add(encoding.PropMessageExpiryInterval, uint32(300)))
	require.NoError(t, s.HandleOutgoingPublish(pub))

	require.NoError(t, s.HandleOutgoingPublish(&encoding.PublishPacket{
		QoS: encoding.QoS2, PacketID: id2, TopicName: "plant/line3", Payload: []byte("x"),
	}))
	sendRel, err := s.HandlePubRec(id2, encoding.ReasonSuccess)
	require.NoError(t, err)
	require.True(t, sendRel)

	// Incoming QoS 2 half-open flow
	deliver, err := s.HandleIncomingPublish(&encoding.PublishPacket{
		QoS: encoding.QoS2, PacketID: 9, TopicName: "in",
	})
	require.NoError(t, err)
	require.True(t, deliver)

	data, err := s.Snapshot()
	require.NoError(t, err)

	// A fresh connection attempt restores the snapshot before the handshake
	restored := New("dev-1", false, false, 10)
	require.NoError(t, restored.Restore(data))
	restored.ApplyConnAck(connackWith(t, nil), 0)

	resend := restored.PendingResend()
	require.Len(t, resend, 1)
	assert.Equal(t, id1, resend[0].PacketID)
	assert.True(t, resend[0].DUP)
	assert.Equal(t, "plant/line2", resend[0].TopicName)
	assert.Equal(t, []byte("reading=42"), resend[0].Payload)

	expiry, ok := resend[0].Properties.Uint32Value(encoding.PropMessageExpiryInterval)
	require.True(t, ok)
	assert.Equal(t, uint32(300), expiry)

	assert.Equal(t, []uint16{id2}, restored.PendingRelease())

	// Restored identifiers are reserved on the new allocator
	assert.True(t, restored.PacketIDs().IsAllocated(id1))
	assert.True(t, restored.PacketIDs().IsAllocated(id2))

	// The half-open incoming flow still deduplicates
	deliver, err = restored.HandleIncomingPublish(&encoding.PublishPacket{
		QoS: encoding.QoS2, PacketID: 9, TopicName: "in",
	})
	require.NoError(t, err)
	assert.False(t, deliver)
}

func TestRestoreRejectsGarbage(t *testing.T) {
	s := New("dev-1", false, false, 0)
	assert.Error(t, s.Restore([]byte{0x01, 0x02, 0x03}))
}
