package encoding

import (
	"bytes"
	"io"
)

// PropertyID represents MQTT 5.0 property identifiers
type PropertyID byte

const (
	PropPayloadFormatIndicator          PropertyID = 0x01
	PropMessageExpiryInterval           PropertyID = 0x02
	PropContentType                     PropertyID = 0x03
	PropResponseTopic                   PropertyID = 0x08
	PropCorrelationData                 PropertyID = 0x09
	PropSubscriptionIdentifier          PropertyID = 0x0B
	PropSessionExpiryInterval           PropertyID = 0x11
	PropAssignedClientIdentifier        PropertyID = 0x12
	PropServerKeepAlive                 PropertyID = 0x13
	PropAuthenticationMethod            PropertyID = 0x15
	PropAuthenticationData              PropertyID = 0x16
	PropRequestProblemInformation       PropertyID = 0x17
	PropWillDelayInterval               PropertyID = 0x18
	PropRequestResponseInformation      PropertyID = 0x19
	PropResponseInformation             PropertyID = 0x1A
	PropServerReference                 PropertyID = 0x1C
	PropReasonString                    PropertyID = 0x1F
	PropReceiveMaximum                  PropertyID = 0x21
	PropTopicAliasMaximum               PropertyID = 0x22
	PropTopicAlias                      PropertyID = 0x23
	PropMaximumQoS                      PropertyID = 0x24
	PropRetainAvailable                 PropertyID = 0x25
	PropUserProperty                    PropertyID = 0x26
	PropMaximumPacketSize               PropertyID = 0x27
	PropWildcardSubscriptionAvailable   PropertyID = 0x28
	PropSubscriptionIdentifierAvailable PropertyID = 0x29
	PropSharedSubscriptionAvailable     PropertyID = 0x2A

	maxPropertyID = PropSharedSubscriptionAvailable
)

// PropertyType represents the data type of a property payload
type PropertyType byte

const (
	PropertyTypeByte PropertyType = iota + 1
	PropertyTypeTwoByteInt
	PropertyTypeFourByteInt
	PropertyTypeVarInt
	PropertyTypeUTF8String
	PropertyTypeUTF8Pair
	PropertyTypeBinaryData
)

// propertySpec defines the payload type and multiplicity for each property.
// A zero Type marks an identifier with no assigned property.
type propertySpec struct {
	Type     PropertyType
	Multiple bool
}

var propertySpecs = [maxPropertyID + 1]propertySpec{
	PropPayloadFormatIndicator:          {PropertyTypeByte, false},
	PropMessageExpiryInterval:           {PropertyTypeFourByteInt, false},
	PropContentType:                     {PropertyTypeUTF8String, false},
	PropResponseTopic:                   {PropertyTypeUTF8String, false},
	PropCorrelationData:                 {PropertyTypeBinaryData, false},
	PropSubscriptionIdentifier:          {PropertyTypeVarInt, true},
	PropSessionExpiryInterval:           {PropertyTypeFourByteInt, false},
	PropAssignedClientIdentifier:        {PropertyTypeUTF8String, false},
	PropServerKeepAlive:                 {PropertyTypeTwoByteInt, false},
	PropAuthenticationMethod:            {PropertyTypeUTF8String, false},
	PropAuthenticationData:              {PropertyTypeBinaryData, false},
	PropRequestProblemInformation:       {PropertyTypeByte, false},
	PropWillDelayInterval:               {PropertyTypeFourByteInt, false},
	PropRequestResponseInformation:      {PropertyTypeByte, false},
	PropResponseInformation:             {PropertyTypeUTF8String, false},
	PropServerReference:                 {PropertyTypeUTF8String, false},
	PropReasonString:                    {PropertyTypeUTF8String, false},
	PropReceiveMaximum:                  {PropertyTypeTwoByteInt, false},
	PropTopicAliasMaximum:               {PropertyTypeTwoByteInt, false},
	PropTopicAlias:                      {PropertyTypeTwoByteInt, false},
	PropMaximumQoS:                      {PropertyTypeByte, false},
	PropRetainAvailable:                 {PropertyTypeByte, false},
	PropUserProperty:                    {PropertyTypeUTF8Pair, true},
	PropMaximumPacketSize:               {PropertyTypeFourByteInt, false},
	PropWildcardSubscriptionAvailable:   {PropertyTypeByte, false},
	PropSubscriptionIdentifierAvailable: {PropertyTypeByte, false},
	PropSharedSubscriptionAvailable:     {PropertyTypeByte, false},
}

// PropertyContext names the packet type whose property set is being parsed.
// Each context carries an allow-list; a property outside the list fails
// decoding with ErrUnexpectedProperty.
type PropertyContext byte

const (
	CtxConnect PropertyContext = iota
	CtxConnAck
	CtxPublish
	CtxWill
	CtxPubAck // shared by PUBACK, PUBREC, PUBREL, PUBCOMP
	CtxSubscribe
	CtxSubAck // shared by SUBACK and UNSUBACK
	CtxUnsubscribe
	CtxDisconnect
	CtxAuth
)

func propBits(ids ...PropertyID) uint64 {
	var mask uint64
	for _, id := range ids {
		mask |= 1 << id
	}
	return mask
}

// allowedProps holds the per-packet property allow-lists from MQTT 5.0
// section 2.2.2.2, precomputed as bitmasks so the check is a single AND.
var allowedProps = [CtxAuth + 1]uint64{
	CtxConnect: propBits(
		PropSessionExpiryInterval, PropReceiveMaximum, PropMaximumPacketSize,
		PropTopicAliasMaximum, PropRequestResponseInformation,
		PropRequestProblemInformation, PropUserProperty,
		PropAuthenticationMethod, PropAuthenticationData,
	),
	CtxConnAck: propBits(
		PropSessionExpiryInterval, PropReceiveMaximum, PropMaximumQoS,
		PropRetainAvailable, PropMaximumPacketSize, PropAssignedClientIdentifier,
		PropTopicAliasMaximum, PropReasonString, PropUserProperty,
		PropWildcardSubscriptionAvailable, PropSubscriptionIdentifierAvailable,
		PropSharedSubscriptionAvailable, PropServerKeepAlive,
		PropResponseInformation, PropServerReference,
		PropAuthenticationMethod, PropAuthenticationData,
	),
	CtxPublish: propBits(
		PropPayloadFormatIndicator, PropMessageExpiryInterval, PropTopicAlias,
		PropResponseTopic, PropCorrelationData, PropUserProperty,
		PropSubscriptionIdentifier, PropContentType,
	),
	CtxWill: propBits(
		PropWillDelayInterval, PropPayloadFormatIndicator,
		PropMessageExpiryInterval, PropContentType, PropResponseTopic,
		PropCorrelationData, PropUserProperty,
	),
	CtxPubAck:      propBits(PropReasonString, PropUserProperty),
	CtxSubscribe:   propBits(PropSubscriptionIdentifier, PropUserProperty),
	CtxSubAck:      propBits(PropReasonString, PropUserProperty),
	CtxUnsubscribe: propBits(PropUserProperty),
	CtxDisconnect: propBits(
		PropSessionExpiryInterval, PropReasonString, PropUserProperty,
		PropServerReference,
	),
	CtxAuth: propBits(
		PropAuthenticationMethod, PropAuthenticationData, PropReasonString,
		PropUserProperty,
	),
}

// Property represents a single MQTT 5.0 property
type Property struct {
	ID    PropertyID
	Value interface{}
}

// Properties represents a collection of MQTT 5.0 properties, kept in
// insertion order so a decoded set re-encodes byte-identically.
type Properties struct {
	Properties []Property
}

// IsEmpty reports whether the collection holds no properties.
func (p *Properties) IsEmpty() bool {
	return p == nil || len(p.Properties) == 0
}

// ParseProperties parses an MQTT 5.0 property set: a variable byte integer
// length followed by exactly that many bytes of tag-and-payload pairs.
// The context's allow-list and the per-property cardinality rules are
// enforced while parsing.
func ParseProperties(r io.Reader, ctx PropertyContext) (*Properties, error) {
	propLength, err := DecodeVariableByteInteger(r)
	if err != nil {
		return nil, err
	}

	props := &Properties{}
	if propLength == 0 {
		return props, nil
	}

	// The limited reader guarantees no property payload reads beyond the
	// declared length; a value overrunning it fails with ErrUnexpectedEOF.
	lr := &io.LimitedReader{R: r, N: int64(propLength)}

	var seen uint64
	for lr.N > 0 {
		idByte, err := readByte(lr)
		if err != nil {
			return nil, err
		}

		id := PropertyID(idByte)
		if id > maxPropertyID || propertySpecs[id].Type == 0 {
			return nil, ErrInvalidPropertyID
		}
		if allowedProps[ctx]&(1<<id) == 0 {
			return nil, ErrUnexpectedProperty
		}

		// SubscriptionIdentifier is multi-valued on PUBLISH but may appear
		// only once in a SUBSCRIBE packet.
		multiple := propertySpecs[id].Multiple
		if ctx == CtxSubscribe && id == PropSubscriptionIdentifier {
			multiple = false
		}
		if !multiple {
			if seen&(1<<id) != 0 {
				return nil, ErrDuplicateProperty
			}
			seen |= 1 << id
		}

		value, err := readPropertyValue(lr, propertySpecs[id].Type)
		if err != nil {
			return nil, err
		}

		props.Properties = append(props.Properties, Property{ID: id, Value: value})
	}

	return props, nil
}

func readPropertyValue(r io.Reader, tp PropertyType) (interface{}, error) {
	switch tp {
	case PropertyTypeByte:
		return readByte(r)
	case PropertyTypeTwoByteInt:
		return readTwoByteInt(r)
	case PropertyTypeFourByteInt:
		return readFourByteInt(r)
	case PropertyTypeVarInt:
		return DecodeVariableByteInteger(r)
	case PropertyTypeUTF8String:
		return readUTF8String(r)
	case PropertyTypeUTF8Pair:
		return readUTF8Pair(r)
	case PropertyTypeBinaryData:
		return readBinaryData(r)
	}
	return nil, ErrInvalidPropertyID
}

// EncodeProperties encodes the property set: the total payload length as a
// variable byte integer followed by each property in insertion order.
func (p *Properties) EncodeProperties(w io.Writer) error {
	length := p.payloadLength()

	if err := WriteVariableByteInteger(w, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}

	for i := range p.Properties {
		if err := encodeProperty(w, &p.Properties[i]); err != nil {
			return err
		}
	}

	return nil
}

// encodeToBytes renders the full property set (length prefix included) into
// a fresh byte slice, the form packet encoders embed directly.
func (p *Properties) encodeToBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.EncodeProperties(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeProperty(w io.Writer, prop *Property) error {
	if err := writeByte(w, byte(prop.ID)); err != nil {
		return err
	}

	switch propertySpecs[prop.ID].Type {
	case PropertyTypeByte:
		return writeByte(w, prop.Value.(byte))
	case PropertyTypeTwoByteInt:
		return writeTwoByteInt(w, prop.Value.(uint16))
	case PropertyTypeFourByteInt:
		return writeFourByteInt(w, prop.Value.(uint32))
	case PropertyTypeVarInt:
		return WriteVariableByteInteger(w, prop.Value.(uint32))
	case PropertyTypeUTF8String:
		return writeUTF8String(w, prop.Value.(string))
	case PropertyTypeUTF8Pair:
		return writeUTF8Pair(w, prop.Value.(UTF8Pair))
	case PropertyTypeBinaryData:
		return writeBinaryData(w, prop.Value.([]byte))
	}
	return ErrInvalidPropertyID
}

// payloadLength is the byte length of all encoded properties, excluding the
// variable byte integer length prefix itself.
func (p *Properties) payloadLength() uint32 {
	if p == nil {
		return 0
	}

	var length uint32
	for i := range p.Properties {
		prop := &p.Properties[i]
		length++ // tag byte

		switch propertySpecs[prop.ID].Type {
		case PropertyTypeByte:
			length++
		case PropertyTypeTwoByteInt:
			length += 2
		case PropertyTypeFourByteInt:
			length += 4
		case PropertyTypeVarInt:
			length += uint32(SizeVariableByteInteger(prop.Value.(uint32)))
		case PropertyTypeUTF8String:
			length += 2 + uint32(len(prop.Value.(string)))
		case PropertyTypeUTF8Pair:
			pair := prop.Value.(UTF8Pair)
			length += 2 + uint32(len(pair.Key)) + 2 + uint32(len(pair.Value))
		case PropertyTypeBinaryData:
			length += 2 + uint32(len(prop.Value.([]byte)))
		}
	}

	return length
}

// EncodedSize is the full on-wire size of the property set: length prefix
// plus payload.
func (p *Properties) EncodedSize() uint32 {
	length := p.payloadLength()
	return uint32(SizeVariableByteInteger(length)) + length
}

// Add appends a property, enforcing the identifier's payload type and
// cardinality. The value must match the property's declared Go type.
func (p *Properties) Add(id PropertyID, value interface{}) error {
	if id > maxPropertyID || propertySpecs[id].Type == 0 {
		return ErrInvalidPropertyID
	}

	if !propertySpecs[id].Multiple && p.Get(id) != nil {
		return ErrDuplicateProperty
	}

	if !valueMatchesType(value, propertySpecs[id].Type) {
		return ErrInvalidPropertyValue
	}

	p.Properties = append(p.Properties, Property{ID: id, Value: value})
	return nil
}

// AddUserProperty appends one UserProperty key-value pair.
func (p *Properties) AddUserProperty(key, value string) {
	p.Properties = append(p.Properties, Property{
		ID:    PropUserProperty,
		Value: UTF8Pair{Key: key, Value: value},
	})
}

func valueMatchesType(value interface{}, tp PropertyType) bool {
	switch tp {
	case PropertyTypeByte:
		_, ok := value.(byte)
		return ok
	case PropertyTypeTwoByteInt:
		_, ok := value.(uint16)
		return ok
	case PropertyTypeFourByteInt, PropertyTypeVarInt:
		_, ok := value.(uint32)
		return ok
	case PropertyTypeUTF8String:
		_, ok := value.(string)
		return ok
	case PropertyTypeUTF8Pair:
		_, ok := value.(UTF8Pair)
		return ok
	case PropertyTypeBinaryData:
		_, ok := value.([]byte)
		return ok
	}
	return false
}

// Get returns the first property with the given ID, or nil if not present.
func (p *Properties) Get(id PropertyID) *Property {
	if p == nil {
		return nil
	}
	for i := range p.Properties {
		if p.Properties[i].ID == id {
			return &p.Properties[i]
		}
	}
	return nil
}

// ByteValue returns the byte payload of the property, if present.
func (p *Properties) ByteValue(id PropertyID) (byte, bool) {
	if prop := p.Get(id); prop != nil {
		v, ok := prop.Value.(byte)
		return v, ok
	}
	return 0, false
}

// Uint16Value returns the two byte integer payload of the property, if present.
func (p *Properties) Uint16Value(id PropertyID) (uint16, bool) {
	if prop := p.Get(id); prop != nil {
		v, ok := prop.Value.(uint16)
		return v, ok
	}
	return 0, false
}

// Uint32Value returns the four byte or variable byte integer payload of the
// property, if present.
func (p *Properties) Uint32Value(id PropertyID) (uint32, bool) {
	if prop := p.Get(id); prop != nil {
		v, ok := prop.Value.(uint32)
		return v, ok
	}
	return 0, false
}

// StringValue returns the UTF-8 string payload of the property, if present.
func (p *Properties) StringValue(id PropertyID) (string, bool) {
	if prop := p.Get(id); prop != nil {
		v, ok := prop.Value.(string)
		return v, ok
	}
	return "", false
}

// BinaryValue returns the binary payload of the property, if present.
func (p *Properties) BinaryValue(id PropertyID) ([]byte, bool) {
	if prop := p.Get(id); prop != nil {
		v, ok := prop.Value.([]byte)
		return v, ok
	}
	return nil, false
}

// UserProperties returns all UserProperty pairs in insertion order.
func (p *Properties) UserProperties() []UTF8Pair {
	if p == nil {
		return nil
	}
	var pairs []UTF8Pair
	for i := range p.Properties {
		if p.Properties[i].ID == PropUserProperty {
			if pair, ok := p.Properties[i].Value.(UTF8Pair); ok {
				pairs = append(pairs, pair)
			}
		}
	}
	return pairs
}

// SubscriptionIdentifiers returns all SubscriptionIdentifier values in
// insertion order.
func (p *Properties) SubscriptionIdentifiers() []uint32 {
	if p == nil {
		return nil
	}
	var ids []uint32
	for i := range p.Properties {
		if p.Properties[i].ID == PropSubscriptionIdentifier {
			if v, ok := p.Properties[i].Value.(uint32); ok {
				ids = append(ids, v)
			}
		}
	}
	return ids
}

// String returns human-readable property ID name
func (id PropertyID) String() string {
	names := map[PropertyID]string{
		PropPayloadFormatIndicator:          "PayloadFormatIndicator",
		PropMessageExpiryInterval:           "MessageExpiryInterval",
		PropContentType:                     "ContentType",
		PropResponseTopic:                   "ResponseTopic",
		PropCorrelationData:                 "CorrelationData",
		PropSubscriptionIdentifier:          "SubscriptionIdentifier",
		PropSessionExpiryInterval:           "SessionExpiryInterval",
		PropAssignedClientIdentifier:        "AssignedClientIdentifier",
		PropServerKeepAlive:                 "ServerKeepAlive",
		PropAuthenticationMethod:            "AuthenticationMethod",
		PropAuthenticationData:              "AuthenticationData",
		PropRequestProblemInformation:       "RequestProblemInformation",
		PropWillDelayInterval:               "WillDelayInterval",
		PropRequestResponseInformation:      "RequestResponseInformation",
		PropResponseInformation:             "ResponseInformation",
		PropServerReference:                 "ServerReference",
		PropReasonString:                    "ReasonString",
		PropReceiveMaximum:                  "ReceiveMaximum",
		PropTopicAliasMaximum:               "TopicAliasMaximum",
		PropTopicAlias:                      "TopicAlias",
		PropMaximumQoS:                      "MaximumQoS",
		PropRetainAvailable:                 "RetainAvailable",
		PropUserProperty:                    "UserProperty",
		PropMaximumPacketSize:               "MaximumPacketSize",
		PropWildcardSubscriptionAvailable:   "WildcardSubscriptionAvailable",
		PropSubscriptionIdentifierAvailable: "SubscriptionIdentifierAvailable",
		PropSharedSubscriptionAvailable:     "SharedSubscriptionAvailable",
	}

	if name, ok := names[id]; ok {
		return name
	}
	return "UNKNOWN"
}
