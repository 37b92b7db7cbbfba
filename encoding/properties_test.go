package encoding

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeProps(t *testing.T, p *Properties) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, p.EncodeProperties(&buf))
	return buf.Bytes()
}

func TestPropertiesRoundTrip(t *testing.T) {
	props := &Properties{}
	require.NoError(t, props.Add(PropSessionExpiryInterval, uint32(3600)))
	require.NoError(t, props.Add(PropReceiveMaximum, uint16(100)))
	require.NoError(t, props.Add(PropMaximumPacketSize, uint32(4096)))
	props.AddUserProperty("region", "eu-west-1")
	props.AddUserProperty("tier", "gold")
	require.NoError(t, props.Add(PropAuthenticationMethod, "SCRAM-SHA-1"))
	require.NoError(t, props.Add(PropAuthenticationData, []byte{0xDE, 0xAD}))

	encoded := encodeProps(t, props)

	decoded, err := ParseProperties(bytes.NewReader(encoded), CtxConnect)
	require.NoError(t, err)
	assert.Equal(t, props.Properties, decoded.Properties)

	// Re-encoding a decoded set is byte-identical
	assert.Equal(t, encoded, encodeProps(t, decoded))
}

func TestPropertiesEmpty(t *testing.T) {
	props := &Properties{}
	encoded := encodeProps(t, props)
	assert.Equal(t, []byte{0x00}, encoded)

	decoded, err := ParseProperties(bytes.NewReader(encoded), CtxPublish)
	require.NoError(t, err)
	assert.True(t, decoded.IsEmpty())
}

func TestPropertiesDuplicateUserPropertyAllowed(t *testing.T) {
	props := &Properties{}
	props.AddUserProperty("k", "v1")
	props.AddUserProperty("k", "v2")

	decoded, err := ParseProperties(bytes.NewReader(encodeProps(t, props)), CtxConnect)
	require.NoError(t, err)

	pairs := decoded.UserProperties()
	require.Len(t, pairs, 2)
	assert.Equal(t, "v1", pairs[0].Value)
	assert.Equal(t, "v2", pairs[1].Value)
}

func TestPropertiesDuplicateSingleValuedRejected(t *testing.T) {
	// Hand-build a property set with SessionExpiryInterval twice; Add would
	// refuse to construct it
	var payload bytes.Buffer
	payload.WriteByte(byte(PropSessionExpiryInterval))
	payload.Write([]byte{0x00, 0x00, 0x00, 0x0A})
	payload.WriteByte(byte(PropSessionExpiryInterval))
	payload.Write([]byte{0x00, 0x00, 0x00, 0x14})

	var buf bytes.Buffer
	require.NoError(t, WriteVariableByteInteger(&buf, uint32(payload.Len())))
	buf.Write(payload.Bytes())

	_, err := ParseProperties(bytes.NewReader(buf.Bytes()), CtxConnect)
	assert.ErrorIs(t, err, ErrDuplicateProperty)
}

func TestPropertiesAddDuplicateRejected(t *testing.T) {
	props := &Properties{}
	require.NoError(t, props.Add(PropTopicAlias, uint16(2)))
	assert.ErrorIs(t, props.Add(PropTopicAlias, uint16(3)), ErrDuplicateProperty)
}

func TestPropertiesUnknownIdentifier(t *testing.T) {
	// Identifier 0x04 is not assigned
	input := []byte{0x02, 0x04, 0x00}
	_, err := ParseProperties(bytes.NewReader(input), CtxPublish)
	assert.ErrorIs(t, err, ErrInvalidPropertyID)
}

func TestPropertiesUnexpectedOnPacket(t *testing.T) {
	tests := []struct {
		name string
		set  func(p *Properties)
		ctx  PropertyContext
	}{
		{
			name: "topic_alias_on_connect",
			set:  func(p *Properties) { _ = p.Add(PropTopicAlias, uint16(1)) },
			ctx:  CtxConnect,
		},
		{
			name: "session_expiry_on_publish",
			set:  func(p *Properties) { _ = p.Add(PropSessionExpiryInterval, uint32(1)) },
			ctx:  CtxPublish,
		},
		{
			name: "reason_string_on_unsubscribe",
			set:  func(p *Properties) { _ = p.Add(PropReasonString, "nope") },
			ctx:  CtxUnsubscribe,
		},
		{
			name: "will_delay_on_puback",
			set:  func(p *Properties) { _ = p.Add(PropWillDelayInterval, uint32(5)) },
			ctx:  CtxPubAck,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props := &Properties{}
			tt.set(props)

			_, err := ParseProperties(bytes.NewReader(encodeProps(t, props)), tt.ctx)
			assert.ErrorIs(t, err, ErrUnexpectedProperty)
		})
	}
}

func TestSubscriptionIdentifierCardinality(t *testing.T) {
	props := &Properties{}
	require.NoError(t, props.Add(PropSubscriptionIdentifier, uint32(1)))
	require.NoError(t, props.Add(PropSubscriptionIdentifier, uint32(2)))
	encoded := encodeProps(t, props)

	// Multi-valued on PUBLISH
	decoded, err := ParseProperties(bytes.NewReader(encoded), CtxPublish)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, decoded.SubscriptionIdentifiers())

	// Single-valued on SUBSCRIBE
	_, err = ParseProperties(bytes.NewReader(encoded), CtxSubscribe)
	assert.ErrorIs(t, err, ErrDuplicateProperty)
}

func TestPropertiesTruncatedPayload(t *testing.T) {
	// Declared length longer than the available bytes
	input := []byte{0x05, 0x01, 0x01}
	_, err := ParseProperties(bytes.NewReader(input), CtxPublish)
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestPropertiesTypedGetters(t *testing.T) {
	props := &Properties{}
	require.NoError(t, props.Add(PropPayloadFormatIndicator, byte(1)))
	require.NoError(t, props.Add(PropTopicAlias, uint16(9)))
	require.NoError(t, props.Add(PropMessageExpiryInterval, uint32(30)))
	require.NoError(t, props.Add(PropContentType, "application/json"))
	require.NoError(t, props.Add(PropCorrelationData, []byte{1, 2, 3}))

	b, ok := props.ByteValue(PropPayloadFormatIndicator)
	require.True(t, ok)
	assert.Equal(t, byte(1), b)

	u16, ok := props.Uint16Value(PropTopicAlias)
	require.True(t, ok)
	assert.Equal(t, uint16(9), u16)

	u32, ok := props.Uint32Value(PropMessageExpiryInterval)
	require.True(t, ok)
	assert.Equal(t, uint32(30), u32)

	s, ok := props.StringValue(PropContentType)
	require.True(t, ok)
	assert.Equal(t, "application/json", s)

	bin, ok := props.BinaryValue(PropCorrelationData)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, bin)

	_, ok = props.Uint16Value(PropReceiveMaximum)
	assert.False(t, ok)
}

func TestPropertiesAddTypeMismatch(t *testing.T) {
	props := &Properties{}
	assert.ErrorIs(t, props.Add(PropTopicAlias, uint32(1)), ErrInvalidPropertyValue)
	assert.ErrorIs(t, props.Add(PropContentType, 42), ErrInvalidPropertyValue)
	assert.ErrorIs(t, props.Add(PropertyID(0x50), byte(0)), ErrInvalidPropertyID)
}

func TestPropertiesEncodedSize(t *testing.T) {
	props := &Properties{}
	require.NoError(t, props.Add(PropReasonString, "abc"))

	encoded := encodeProps(t, props)
	assert.Equal(t, uint32(len(encoded)), props.EncodedSize())
}
