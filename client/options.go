package client

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/axmq/axon/encoding"
)

// Will is the message the server publishes on the client's behalf when the
// connection terminates abnormally.
type Will = encoding.Will

// ConnectOptions configures one client session. The zero value is not
// usable; construct with NewConnectOptions.
type ConnectOptions struct {
	// ClientID may be empty, in which case the server assigns one and
	// returns it in the CONNACK
	ClientID string `validate:"max=65535"`

	// CleanStart discards any session state the server holds for ClientID
	CleanStart bool

	// KeepAlive in seconds; 0 disables pinging
	KeepAlive uint16

	// SessionExpiryInterval in seconds, nil to omit
	SessionExpiryInterval *uint32

	// ReceiveMaximum is the number of concurrent QoS 1/2 publishes this
	// client is willing to process
	ReceiveMaximum uint16 `validate:"gt=0"`

	// MaximumPacketSize this client accepts; 0 to omit the property
	MaximumPacketSize uint32

	// TopicAliasMaximum is the highest topic alias this client accepts
	TopicAliasMaximum uint16

	// RequestResponseInformation and RequestProblemInformation are the 0/1
	// CONNECT properties, nil to omit
	RequestResponseInformation *byte `validate:"omitempty,lte=1"`
	RequestProblemInformation  *byte `validate:"omitempty,lte=1"`

	UserProperties []encoding.UTF8Pair

	AuthenticationMethod string
	AuthenticationData   []byte

	// Username and Password, nil to omit
	Username *string
	Password []byte

	Will *Will

	// ManualAcks defers PUBACK/PUBREC for received QoS 1/2 publishes until
	// the application calls Ack
	ManualAcks bool
}

// NewConnectOptions returns options with the protocol defaults: clean start,
// no keep-alive, receive maximum 65535.
func NewConnectOptions(clientID string) *ConnectOptions {
	return &ConnectOptions{
		ClientID:       clientID,
		CleanStart:     true,
		ReceiveMaximum: 65535,
	}
}

var validate = validator.New()

// Validate checks the options before connecting.
func (o *ConnectOptions) Validate() error {
	if err := validate.Struct(o); err != nil {
		return err
	}
	if len(o.AuthenticationData) > 0 && o.AuthenticationMethod == "" {
		return errors.New("authentication data requires an authentication method")
	}
	if o.Password != nil && o.Username == nil {
		return errors.New("password requires a username")
	}
	if o.Will != nil && !o.Will.QoS.IsValid() {
		return encoding.ErrInvalidWillQoS
	}
	return nil
}

// connectPacket builds the CONNECT packet for these options.
func (o *ConnectOptions) connectPacket() (*encoding.ConnectPacket, error) {
	pkt := &encoding.ConnectPacket{
		CleanStart: o.CleanStart,
		KeepAlive:  o.KeepAlive,
		ClientID:   o.ClientID,
		Will:       o.Will,
	}

	props := &pkt.Properties
	if o.SessionExpiryInterval != nil {
		if err := props.Add(encoding.PropSessionExpiryInterval, *o.SessionExpiryInterval); err != nil {
			return nil, err
		}
	}
	if o.ReceiveMaximum != 65535 {
		if err := props.Add(encoding.PropReceiveMaximum, o.ReceiveMaximum); err != nil {
			return nil, err
		}
	}
	if o.MaximumPacketSize != 0 {
		if err := props.Add(encoding.PropMaximumPacketSize, o.MaximumPacketSize); err != nil {
			return nil, err
		}
	}
	if o.TopicAliasMaximum != 0 {
		if err := props.Add(encoding.PropTopicAliasMaximum, o.TopicAliasMaximum); err != nil {
			return nil, err
		}
	}
	if o.RequestResponseInformation != nil {
		if err := props.Add(encoding.PropRequestResponseInformation, *o.RequestResponseInformation); err != nil {
			return nil, err
		}
	}
	if o.RequestProblemInformation != nil {
		if err := props.Add(encoding.PropRequestProblemInformation, *o.RequestProblemInformation); err != nil {
			return nil, err
		}
	}
	for _, up := range o.UserProperties {
		props.AddUserProperty(up.Key, up.Value)
	}
	if o.AuthenticationMethod != "" {
		if err := props.Add(encoding.PropAuthenticationMethod, o.AuthenticationMethod); err != nil {
			return nil, err
		}
		if len(o.AuthenticationData) > 0 {
			if err := props.Add(encoding.PropAuthenticationData, o.AuthenticationData); err != nil {
				return nil, err
			}
		}
	}

	if o.Username != nil {
		pkt.UsernameFlag = true
		pkt.Username = *o.Username
	}
	if o.Password != nil {
		pkt.PasswordFlag = true
		pkt.Password = o.Password
	}

	return pkt, nil
}
