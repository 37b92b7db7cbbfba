package client

import (
	"context"
	"sync"

	"github.com/axmq/axon/encoding"
	"github.com/axmq/axon/pkid"
	"github.com/axmq/axon/session"
	"github.com/axmq/axon/topic"
)

// outbound is one entry on the handle-to-runner queue: either a packet to
// write, or a manual acknowledgement request for a received publish.
type outbound struct {
	packet encoding.Packet
	ackID  uint16
}

// Client is the caller-facing handle. It performs no I/O itself; every
// operation builds a packet and places it on the bounded queue the runner
// drains. The handle may be shared across goroutines.
type Client struct {
	queue     chan outbound
	done      chan struct{}
	closeOnce sync.Once

	pkids *pkid.Allocator
	state *session.State
}

// Close closes the handle. The runner observes the closed handle, sends a
// normal DISCONNECT and returns. Packets already on the queue are still
// written first.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// SessionPresent reports whether the server resumed an existing session.
func (c *Client) SessionPresent() bool {
	return c.state.SessionPresent()
}

// ClientID returns the identifier in effect for this session, including a
// server-assigned one.
func (c *Client) ClientID() string {
	return c.state.ClientID()
}

// PendingResend returns the unacknowledged QoS 1/2 publishes with DUP set,
// for resubmission on a follow-up connection with CleanStart false.
func (c *Client) PendingResend() []*encoding.PublishPacket {
	return c.state.PendingResend()
}

// SessionSnapshot serializes the inflight session state so the caller can
// hand it to a future connection attempt.
func (c *Client) SessionSnapshot() ([]byte, error) {
	return c.state.Snapshot()
}

func (c *Client) enqueue(ctx context.Context, ob outbound) error {
	// Fail fast when already closed, even if the queue has room
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.queue <- ob:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish enqueues a PUBLISH. For QoS 1 and 2 the runner allocates the
// packet identifier when it dequeues the message; the corresponding
// PUBACK or PUBCOMP is delivered to the handler. An empty topic is permitted
// only when the properties carry a topic alias.
func (c *Client) Publish(ctx context.Context, topicName string, payload []byte, qos encoding.QoS, retain bool, props *encoding.Properties) error {
	if !qos.IsValid() {
		return encoding.ErrInvalidQoS
	}

	pkt := &encoding.PublishPacket{
		QoS:       qos,
		Retain:    retain,
		TopicName: topicName,
		Payload:   payload,
	}
	if props != nil {
		pkt.Properties = *props
	}

	if topicName == "" {
		if _, ok := pkt.Properties.Uint16Value(encoding.PropTopicAlias); !ok {
			return topic.ErrEmptyTopic
		}
	} else if err := topic.ValidateName(topicName); err != nil {
		return err
	}

	return c.enqueue(ctx, outbound{packet: pkt})
}

// Subscribe allocates a packet identifier, enqueues a SUBSCRIBE and returns
// the identifier so the caller can match the SUBACK delivered to the
// handler. Allocation blocks when the identifier capacity is exhausted.
func (c *Client) Subscribe(ctx context.Context, subscriptions []encoding.Subscription, props *encoding.Properties) (uint16, error) {
	if len(subscriptions) == 0 {
		return 0, ErrEmptyFilterList
	}
	for i := range subscriptions {
		if err := topic.ValidateFilter(subscriptions[i].TopicFilter); err != nil {
			return 0, err
		}
	}

	id, err := c.pkids.AllocateWait(ctx)
	if err != nil {
		return 0, err
	}

	pkt := &encoding.SubscribePacket{PacketID: id, Subscriptions: subscriptions}
	if props != nil {
		pkt.Properties = *props
	}

	if err := c.enqueue(ctx, outbound{packet: pkt}); err != nil {
		c.pkids.Release(id)
		return 0, err
	}
	return id, nil
}

// Unsubscribe allocates a packet identifier, enqueues an UNSUBSCRIBE and
// returns the identifier so the caller can match the UNSUBACK.
func (c *Client) Unsubscribe(ctx context.Context, filters []string, props *encoding.Properties) (uint16, error) {
	if len(filters) == 0 {
		return 0, ErrEmptyFilterList
	}
	for _, f := range filters {
		if err := topic.ValidateFilter(f); err != nil {
			return 0, err
		}
	}

	id, err := c.pkids.AllocateWait(ctx)
	if err != nil {
		return 0, err
	}

	pkt := &encoding.UnsubscribePacket{PacketID: id, TopicFilters: filters}
	if props != nil {
		pkt.Properties = *props
	}

	if err := c.enqueue(ctx, outbound{packet: pkt}); err != nil {
		c.pkids.Release(id)
		return 0, err
	}
	return id, nil
}

// Disconnect enqueues a DISCONNECT. The runner writes it and returns,
// terminating the connection.
func (c *Client) Disconnect(ctx context.Context, reason encoding.ReasonCode, props *encoding.Properties) error {
	pkt := &encoding.DisconnectPacket{ReasonCode: reason}
	if props != nil {
		pkt.Properties = *props
	}
	return c.enqueue(ctx, outbound{packet: pkt})
}

// Auth enqueues an AUTH packet for an enhanced authentication exchange.
func (c *Client) Auth(ctx context.Context, reason encoding.ReasonCode, props *encoding.Properties) error {
	pkt := &encoding.AuthPacket{ReasonCode: reason}
	if props != nil {
		pkt.Properties = *props
	}
	return c.enqueue(ctx, outbound{packet: pkt})
}

// ResendPending resubmits the inflight flows of a resumed session: every
// unacknowledged QoS 1/2 publish with DUP set, and a PUBREL for every QoS 2
// flow that was stalled awaiting PUBCOMP. Call after reconnecting with
// CleanStart false and a session snapshot, once the server confirmed
// session-present.
func (c *Client) ResendPending(ctx context.Context) error {
	for _, pub := range c.state.PendingResend() {
		if err := c.enqueue(ctx, outbound{packet: pub}); err != nil {
			return err
		}
	}
	for _, id := range c.state.PendingRelease() {
		rel := &encoding.PubRelPacket{PacketID: id, ReasonCode: encoding.ReasonSuccess}
		if err := c.enqueue(ctx, outbound{packet: rel}); err != nil {
			return err
		}
	}
	return nil
}

// Ack acknowledges a received QoS 1/2 publish whose acknowledgement was
// deferred by the ManualAcks option. The runner replies with the PUBACK or
// PUBREC owed for the identifier.
func (c *Client) Ack(ctx context.Context, packetID uint16) error {
	if !c.state.ManualAck() {
		return ErrManualAckDisabled
	}
	return c.enqueue(ctx, outbound{ackID: packetID})
}
