// Package session tracks the client side of an MQTT 5.0 session: the limits
// granted by the server, the in-flight QoS 1 and QoS 2 exchanges in both
// directions, the topic alias mappings, and the packet identifier allocator.
//
// The state is owned by the connection runner, which drives every transition;
// the mutex exists so snapshots and inspection remain safe while the runner
// is live.
package session

import (
	"sync"

	"github.com/axmq/axon/encoding"
	"github.com/axmq/axon/pkid"
)

// State is the mutable session state for one client connection.
type State struct {
	mu sync.RWMutex

	clientID      string
	cleanStart    bool
	manualAck     bool
	topicAliasMax uint16 // highest inbound alias this client accepts

	// Limits learned from CONNACK
	serverReceiveMax    uint16
	serverMaxPacketSize uint32 // 0 = no limit advertised
	serverTopicAliasMax uint16
	effectiveKeepAlive  uint16
	assignedClientID    string
	sessionPresent      bool

	// Outstanding flows, keyed by packet identifier
	outgoingPub   map[uint16]*encoding.PublishPacket // awaiting PUBACK (QoS 1) or PUBREC (QoS 2)
	outgoingRel   map[uint16]struct{}                // PUBREL sent, awaiting PUBCOMP
	incomingPub   map[uint16]struct{}                // QoS 2 PUBLISH received, awaiting PUBREL
	outgoingSub   map[uint16]struct{}                // awaiting SUBACK
	outgoingUnsub map[uint16]struct{}                // awaiting UNSUBACK

	// Topic aliases, each direction negotiated independently
	outgoingAliases map[uint16]string
	incomingAliases map[uint16]string

	pkids *pkid.Allocator
}

// New creates session state for a connection attempt. The packet identifier
// allocator is installed by ApplyConnAck once the server's receive maximum
// is known.
func New(clientID string, cleanStart, manualAck bool, topicAliasMax uint16) *State {
	return &State{
		clientID:         clientID,
		cleanStart:       cleanStart,
		manualAck:        manualAck,
		topicAliasMax:    topicAliasMax,
		serverReceiveMax: 65535,
		outgoingPub:      make(map[uint16]*encoding.PublishPacket),
		outgoingRel:      make(map[uint16]struct{}),
		incomingPub:      make(map[uint16]struct{}),
		outgoingSub:      make(map[uint16]struct{}),
		outgoingUnsub:    make(map[uint16]struct{}),
		outgoingAliases:  make(map[uint16]string),
		incomingAliases:  make(map[uint16]string),
	}
}

// ApplyConnAck records the limits granted by the server and installs the
// packet identifier allocator sized to the server's receive maximum.
// Identifiers still bound to inflight flows from a previous connection are
// re-reserved so resent packets keep them.
func (s *State) ApplyConnAck(connack *encoding.ConnAckPacket, requestedKeepAlive uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Per the MQTT standard the receive maximum defaults to 65535 when the
	// property is absent
	s.serverReceiveMax = 65535
	if v, ok := connack.Properties.Uint16Value(encoding.PropReceiveMaximum); ok {
		s.serverReceiveMax = v
	}

	s.serverMaxPacketSize = 0
	if v, ok := connack.Properties.Uint32Value(encoding.PropMaximumPacketSize); ok {
		s.serverMaxPacketSize = v
	}

	s.serverTopicAliasMax = 0
	if v, ok := connack.Properties.Uint16Value(encoding.PropTopicAliasMaximum); ok {
		s.serverTopicAliasMax = v
	}

	s.effectiveKeepAlive = requestedKeepAlive
	if v, ok := connack.Properties.Uint16Value(encoding.PropServerKeepAlive); ok {
		s.effectiveKeepAlive = v
	}

	if v, ok := connack.Properties.StringValue(encoding.PropAssignedClientIdentifier); ok {
		s.assignedClientID = v
	}
	s.sessionPresent = connack.SessionPresent

	s.pkids = pkid.New(s.serverReceiveMax)
	for id := range s.outgoingPub {
		s.pkids.MarkAllocated(id)
	}
	for id := range s.outgoingRel {
		s.pkids.MarkAllocated(id)
	}

	// Aliases never survive a reconnect; each connection negotiates afresh
	s.outgoingAliases = make(map[uint16]string)
	s.incomingAliases = make(map[uint16]string)
}

// PacketIDs returns the identifier allocator, nil before ApplyConnAck.
func (s *State) PacketIDs() *pkid.Allocator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pkids
}

// ClientID returns the client identifier in use: the one the server assigned
// if the caller supplied an empty identifier, otherwise the caller's.
func (s *State) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.clientID == "" && s.assignedClientID != "" {
		return s.assignedClientID
	}
	return s.clientID
}

// SessionPresent reports whether the server resumed an existing session.
func (s *State) SessionPresent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionPresent
}

// EffectiveKeepAlive is the keep-alive in seconds actually governing the
// connection: the server's override if it sent one, else the requested value.
func (s *State) EffectiveKeepAlive() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effectiveKeepAlive
}

// ManualAck reports whether received QoS 1/2 publishes wait for an explicit
// acknowledgement from the application.
func (s *State) ManualAck() bool {
	return s.manualAck
}

// MaxOutgoingPacketSize returns the server's maximum packet size, 0 if the
// server advertised none.
func (s *State) MaxOutgoingPacketSize() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverMaxPacketSize
}

// ServerReceiveMaximum returns the number of concurrent QoS 1/2 publishes the
// server is willing to process.
func (s *State) ServerReceiveMaximum() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverReceiveMax
}

// HandleOutgoingPublish validates and records an outbound publish before it
// is written. A QoS 1/2 publish is registered as inflight; a topic alias is
// validated against the server's maximum and registered.
func (s *State) HandleOutgoingPublish(p *encoding.PublishPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alias, ok := p.Properties.Uint16Value(encoding.PropTopicAlias); ok {
		if alias == 0 || alias > s.serverTopicAliasMax {
			return encoding.NewProtocolError(encoding.ErrInvalidTopicAlias,
				"outgoing topic alias must be in 1..server topic alias maximum")
		}
		if p.TopicName != "" {
			s.outgoingAliases[alias] = p.TopicName
		}
	}

	if p.QoS == encoding.QoS0 {
		return nil
	}

	if p.PacketID == 0 {
		return encoding.ErrMissingPacketID
	}
	if _, inflight := s.outgoingPub[p.PacketID]; inflight && !p.DUP {
		// A DUP publish is the resend of the registered flow and keeps its
		// identifier; anything else is a conflict
		return ErrPacketIDConflict
	}
	if _, inflight := s.outgoingRel[p.PacketID]; inflight {
		return ErrPacketIDConflict
	}

	s.outgoingPub[p.PacketID] = p
	return nil
}

// HandlePubAck completes an outgoing QoS 1 flow and releases the identifier.
func (s *State) HandlePubAck(id uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outgoingPub[id]; !ok {
		return ErrUnknownPacketID
	}
	delete(s.outgoingPub, id)
	s.release(id)
	return nil
}

// HandlePubRec advances an outgoing QoS 2 flow. It reports whether a PUBREL
// should be sent; a PUBREC with an error reason code aborts the flow and
// releases the identifier instead.
func (s *State) HandlePubRec(id uint16, reason encoding.ReasonCode) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outgoingPub[id]; !ok {
		return false, ErrUnknownPacketID
	}
	delete(s.outgoingPub, id)

	if reason.IsError() {
		s.release(id)
		return false, nil
	}

	s.outgoingRel[id] = struct{}{}
	return true, nil
}

// HandlePubComp completes an outgoing QoS 2 flow and releases the identifier.
func (s *State) HandlePubComp(id uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outgoingRel[id]; !ok {
		return ErrUnknownPacketID
	}
	delete(s.outgoingRel, id)
	s.release(id)
	return nil
}

// HandleIncomingPublish resolves the topic alias and advances the incoming
// state machine. It reports whether the publish should be delivered to the
// handler; a redelivered QoS 2 publish is acknowledged again but not
// redelivered.
func (s *State) HandleIncomingPublish(p *encoding.PublishPacket) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alias, ok := p.Properties.Uint16Value(encoding.PropTopicAlias); ok {
		if alias == 0 || alias > s.topicAliasMax {
			return false, encoding.NewProtocolError(encoding.ErrInvalidTopicAlias,
				"incoming topic alias must be in 1..topic alias maximum")
		}
		if p.TopicName != "" {
			s.incomingAliases[alias] = p.TopicName
		} else {
			topic, ok := s.incomingAliases[alias]
			if !ok {
				return false, encoding.NewProtocolError(ErrUnknownTopicAlias,
					"publish with empty topic referenced an unregistered alias")
			}
			p.TopicName = topic
		}
	}

	if p.QoS == encoding.QoS2 {
		if _, seen := s.incomingPub[p.PacketID]; seen {
			return false, nil
		}
		s.incomingPub[p.PacketID] = struct{}{}
	}

	return true, nil
}

// HandleIncomingPubRel closes the receive side of a QoS 2 flow. The PUBCOMP
// reply is owed either way; the return value only reports whether the
// identifier was outstanding.
func (s *State) HandleIncomingPubRel(id uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.incomingPub[id]
	delete(s.incomingPub, id)
	return ok
}

// RegisterSubscribe records an outstanding SUBSCRIBE identifier.
func (s *State) RegisterSubscribe(id uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.outgoingSub[id]; dup {
		return ErrPacketIDConflict
	}
	s.outgoingSub[id] = struct{}{}
	return nil
}

// RegisterUnsubscribe records an outstanding UNSUBSCRIBE identifier.
func (s *State) RegisterUnsubscribe(id uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.outgoingUnsub[id]; dup {
		return ErrPacketIDConflict
	}
	s.outgoingUnsub[id] = struct{}{}
	return nil
}

// HandleSubAck closes an outstanding SUBSCRIBE flow and releases the
// identifier.
func (s *State) HandleSubAck(id uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outgoingSub[id]; !ok {
		return ErrUnknownPacketID
	}
	delete(s.outgoingSub, id)
	s.release(id)
	return nil
}

// HandleUnsubAck closes an outstanding UNSUBSCRIBE flow and releases the
// identifier.
func (s *State) HandleUnsubAck(id uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outgoingUnsub[id]; !ok {
		return ErrUnknownPacketID
	}
	delete(s.outgoingUnsub, id)
	s.release(id)
	return nil
}

// release must be called with the lock held.
func (s *State) release(id uint16) {
	if s.pkids != nil {
		s.pkids.Release(id)
	}
}

// InflightCount returns the number of outstanding outgoing QoS 1/2 flows.
func (s *State) InflightCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outgoingPub) + len(s.outgoingRel)
}

// PendingResend returns copies of the QoS 1/2 publishes that were never
// acknowledged, with the DUP flag set, for resubmission after a reconnect
// with CleanStart false. Resubmission is driven by the caller.
func (s *State) PendingResend() []*encoding.PublishPacket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]*encoding.PublishPacket, 0, len(s.outgoingPub))
	for _, p := range s.outgoingPub {
		clone := *p
		clone.DUP = true
		pending = append(pending, &clone)
	}
	return pending
}

// PendingRelease returns the identifiers of QoS 2 flows stalled between
// PUBREL and PUBCOMP; the caller resends the PUBRELs after reconnecting.
func (s *State) PendingRelease() []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint16, 0, len(s.outgoingRel))
	for id := range s.outgoingRel {
		ids = append(ids, id)
	}
	return ids
}
