package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/axmq/axon/encoding"
	"github.com/axmq/axon/metrics"
	"github.com/axmq/axon/pkg/logger"
	"github.com/axmq/axon/session"
)

// Runner owns the stream and the session state after a successful handshake.
// Run drives the connection until it terminates: it multiplexes inbound
// packet decoding, outbound dispatch from the handle's queue, and keep-alive
// pinging on a single goroutine, so the stream has exactly one reader and
// one writer.
type Runner struct {
	conn         io.ReadWriteCloser
	reader       *bufio.Reader
	state        *session.State
	queue        chan outbound
	clientDone   chan struct{}
	log          logger.Logger
	metrics      *metrics.Metrics
	interceptors []Interceptor
	connack      *encoding.ConnAckPacket

	handler Handler
	readCh  chan readResult

	// Received QoS 1/2 publishes whose acknowledgement awaits Client.Ack
	pendingAcks map[uint16]encoding.QoS

	writeBuf bytes.Buffer

	lastSent        time.Time
	pingSent        time.Time
	pingOutstanding bool

	disconnect *encoding.DisconnectPacket
}

type readResult struct {
	pkt encoding.Packet
	n   int64
	err error
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ConnAck returns the CONNACK that established the session.
func (r *Runner) ConnAck() *encoding.ConnAckPacket {
	return r.connack
}

// DisconnectReason returns the DISCONNECT the server sent, if the connection
// was terminated by the peer; nil otherwise. Valid after Run returns.
func (r *Runner) DisconnectReason() *encoding.DisconnectPacket {
	return r.disconnect
}

// Session exposes the session state, primarily for snapshotting after Run
// returns.
func (r *Runner) Session() *session.State {
	return r.state
}

// Run drives the connection until it terminates and returns the terminating
// condition: nil for an orderly shutdown (peer DISCONNECT, local DISCONNECT
// sent, or handle closed), otherwise the transport, keep-alive or protocol
// error. The handler receives user-facing events serially; a nil handler
// discards them.
func (r *Runner) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		handler = NopHandler()
	}
	r.handler = chain(handler, r.interceptors)

	// The stream is useless once the loop exits; closing it also unblocks
	// the reader goroutine
	defer r.conn.Close()

	loopDone := make(chan struct{})
	defer close(loopDone)

	r.readCh = make(chan readResult, 1)
	go func() {
		cr := &countingReader{r: r.reader}
		for {
			before := cr.n
			pkt, err := encoding.ReadPacket(cr)
			select {
			case r.readCh <- readResult{pkt: pkt, n: cr.n - before, err: err}:
			case <-loopDone:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	r.lastSent = time.Now() // the CONNECT handshake counts as activity

	keepAlive := time.Duration(r.state.EffectiveKeepAlive()) * time.Second
	var tick <-chan time.Time
	if keepAlive > 0 {
		interval := keepAlive / 4
		if interval < 100*time.Millisecond {
			interval = 100 * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case rr := <-r.readCh:
			stop, err := r.processInbound(rr)
			if stop || err != nil {
				return err
			}

		case ob := <-r.queue:
			stop, err := r.processOutbound(ctx, ob)
			if stop || err != nil {
				return err
			}

		case <-tick:
			if err := r.checkKeepAlive(); err != nil {
				return err
			}

		case <-r.clientDone:
			if !r.drainQueue(ctx) {
				r.sendDisconnect(encoding.ReasonNormalDisconnection)
			}
			return nil

		case <-ctx.Done():
			r.sendDisconnect(encoding.ReasonNormalDisconnection)
			return ctx.Err()
		}
	}
}

// drainQueue writes out whatever the handle enqueued before it was closed.
// It reports whether a DISCONNECT already went out while draining.
func (r *Runner) drainQueue(ctx context.Context) bool {
	for {
		select {
		case ob := <-r.queue:
			if _, isDisconnect := ob.packet.(*encoding.DisconnectPacket); isDisconnect {
				_, _ = r.processOutbound(ctx, ob)
				return true
			}
			if stop, err := r.processOutbound(ctx, ob); stop || err != nil {
				return true
			}
		default:
			return false
		}
	}
}

// sendDisconnect writes a DISCONNECT best-effort during shutdown.
func (r *Runner) sendDisconnect(reason encoding.ReasonCode) {
	if err := r.writePacket(&encoding.DisconnectPacket{ReasonCode: reason}); err != nil {
		r.log.Debug("disconnect write failed", "error", err)
	}
}

func (r *Runner) processInbound(rr readResult) (bool, error) {
	if rr.err != nil {
		if errors.Is(rr.err, io.EOF) || errors.Is(rr.err, encoding.ErrUnexpectedEOF) {
			return true, fmt.Errorf("%w: %v", ErrConnectionClosed, rr.err)
		}
		return true, rr.err
	}

	r.metrics.ObserveReceived(int(rr.n))

	switch pkt := rr.pkt.(type) {
	case *encoding.PublishPacket:
		return r.handleIncomingPublish(pkt)

	case *encoding.PubAckPacket:
		if err := r.state.HandlePubAck(pkt.PacketID); err != nil {
			r.log.Warn("stray PUBACK", "packet_id", pkt.PacketID)
			return false, nil
		}
		r.metrics.SetInflight(r.state.InflightCount())
		r.handler.Handle(pkt)

	case *encoding.PubRecPacket:
		sendRel, err := r.state.HandlePubRec(pkt.PacketID, pkt.ReasonCode)
		if err != nil {
			r.log.Warn("stray PUBREC", "packet_id", pkt.PacketID)
			return false, nil
		}
		if sendRel {
			rel := &encoding.PubRelPacket{PacketID: pkt.PacketID, ReasonCode: encoding.ReasonSuccess}
			if err := r.writePacket(rel); err != nil {
				return true, err
			}
		} else {
			// The error reason aborted the flow; surface it to the handler
			r.metrics.SetInflight(r.state.InflightCount())
			r.handler.Handle(pkt)
		}

	case *encoding.PubRelPacket:
		if !r.state.HandleIncomingPubRel(pkt.PacketID) {
			r.log.Debug("PUBREL for unknown packet", "packet_id", pkt.PacketID)
		}
		comp := &encoding.PubCompPacket{PacketID: pkt.PacketID, ReasonCode: encoding.ReasonSuccess}
		if err := r.writePacket(comp); err != nil {
			return true, err
		}

	case *encoding.PubCompPacket:
		if err := r.state.HandlePubComp(pkt.PacketID); err != nil {
			r.log.Warn("stray PUBCOMP", "packet_id", pkt.PacketID)
			return false, nil
		}
		r.metrics.SetInflight(r.state.InflightCount())
		r.handler.Handle(pkt)

	case *encoding.SubAckPacket:
		if err := r.state.HandleSubAck(pkt.PacketID); err != nil {
			r.log.Warn("stray SUBACK", "packet_id", pkt.PacketID)
		}
		r.handler.Handle(pkt)

	case *encoding.UnsubAckPacket:
		if err := r.state.HandleUnsubAck(pkt.PacketID); err != nil {
			r.log.Warn("stray UNSUBACK", "packet_id", pkt.PacketID)
		}
		r.handler.Handle(pkt)

	case *encoding.PingRespPacket:
		r.pingOutstanding = false
		r.metrics.ObservePong()
		r.handler.Handle(pkt)

	case *encoding.DisconnectPacket:
		r.disconnect = pkt
		r.handler.Handle(pkt)
		r.log.Debug("server disconnected", "reason", pkt.ReasonCode.String())
		return true, nil

	case *encoding.AuthPacket:
		// Enhanced authentication: the application answers via Client.Auth
		r.handler.Handle(pkt)

	default:
		return true, fmt.Errorf("%w: %s", ErrUnexpectedPacket, rr.pkt.Type())
	}

	return false, nil
}

func (r *Runner) handleIncomingPublish(pkt *encoding.PublishPacket) (bool, error) {
	deliver, err := r.state.HandleIncomingPublish(pkt)
	if err != nil {
		// Topic alias violations are fatal; tell the server why before
		// tearing down
		r.sendDisconnect(encoding.GetReasonCode(err))
		return true, err
	}

	if !deliver {
		// QoS 2 redelivery: acknowledge again without handing the message
		// to the application a second time
		rec := &encoding.PubRecPacket{PacketID: pkt.PacketID, ReasonCode: encoding.ReasonSuccess}
		return false, r.writePacket(rec)
	}

	r.handler.Handle(pkt)

	switch pkt.QoS {
	case encoding.QoS1:
		if r.state.ManualAck() {
			r.pendingAcks[pkt.PacketID] = encoding.QoS1
			return false, nil
		}
		ack := &encoding.PubAckPacket{PacketID: pkt.PacketID, ReasonCode: encoding.ReasonSuccess}
		return false, r.writePacket(ack)

	case encoding.QoS2:
		if r.state.ManualAck() {
			r.pendingAcks[pkt.PacketID] = encoding.QoS2
			return false, nil
		}
		rec := &encoding.PubRecPacket{PacketID: pkt.PacketID, ReasonCode: encoding.ReasonSuccess}
		return false, r.writePacket(rec)
	}

	return false, nil
}

func (r *Runner) processOutbound(ctx context.Context, ob outbound) (bool, error) {
	if ob.packet == nil {
		return false, r.sendManualAck(ob.ackID)
	}

	switch pkt := ob.packet.(type) {
	case *encoding.PublishPacket:
		return r.sendPublish(ctx, pkt)

	case *encoding.SubscribePacket:
		if err := r.state.RegisterSubscribe(pkt.PacketID); err != nil {
			r.log.Error("subscribe not sent", "packet_id", pkt.PacketID, "error", err)
			return false, nil
		}
		return false, r.writePacket(pkt)

	case *encoding.UnsubscribePacket:
		if err := r.state.RegisterUnsubscribe(pkt.PacketID); err != nil {
			r.log.Error("unsubscribe not sent", "packet_id", pkt.PacketID, "error", err)
			return false, nil
		}
		return false, r.writePacket(pkt)

	case *encoding.DisconnectPacket:
		// A locally requested DISCONNECT ends the session
		if err := r.writePacket(pkt); err != nil {
			return true, err
		}
		return true, nil

	default:
		return false, r.writePacket(pkt)
	}
}

func (r *Runner) sendManualAck(id uint16) error {
	qos, ok := r.pendingAcks[id]
	if !ok {
		r.log.Warn("acknowledgement for unknown packet", "packet_id", id)
		return nil
	}
	delete(r.pendingAcks, id)

	if qos == encoding.QoS2 {
		return r.writePacket(&encoding.PubRecPacket{PacketID: id, ReasonCode: encoding.ReasonSuccess})
	}
	return r.writePacket(&encoding.PubAckPacket{PacketID: id, ReasonCode: encoding.ReasonSuccess})
}

func (r *Runner) sendPublish(ctx context.Context, pkt *encoding.PublishPacket) (bool, error) {
	allocated := uint16(0)
	if pkt.QoS > encoding.QoS0 && pkt.PacketID == 0 {
		id, stop, err := r.allocatePacketID(ctx)
		if stop || err != nil {
			return stop, err
		}
		pkt.PacketID = id
		allocated = id
	}

	if err := r.state.HandleOutgoingPublish(pkt); err != nil {
		// The packet never reaches the wire; a conflict or alias violation
		// here is a caller bug, not a connection failure
		if allocated != 0 {
			r.state.PacketIDs().Release(allocated)
		}
		r.log.Error("publish dropped", "topic", pkt.TopicName, "error", err)
		return false, nil
	}

	if err := r.writePacket(pkt); err != nil {
		if errors.Is(err, ErrPacketTooLarge) {
			r.rollbackPublish(pkt, allocated)
			r.log.Error("publish dropped", "topic", pkt.TopicName, "error", err)
			return false, nil
		}
		return true, err
	}

	r.metrics.SetInflight(r.state.InflightCount())
	return false, nil
}

// rollbackPublish undoes the inflight registration of a publish that was
// never written.
func (r *Runner) rollbackPublish(pkt *encoding.PublishPacket, allocated uint16) {
	if pkt.QoS > encoding.QoS0 {
		if err := r.state.HandlePubAck(pkt.PacketID); err == nil {
			return // HandlePubAck released the identifier
		}
	}
	if allocated != 0 {
		r.state.PacketIDs().Release(allocated)
	}
}

// allocatePacketID blocks until identifier capacity is available. Inbound
// packets keep being processed while waiting, since acknowledgements are
// what release identifiers.
func (r *Runner) allocatePacketID(ctx context.Context) (uint16, bool, error) {
	for {
		if id, ok := r.state.PacketIDs().Allocate(); ok {
			return id, false, nil
		}

		select {
		case rr := <-r.readCh:
			stop, err := r.processInbound(rr)
			if stop || err != nil {
				return 0, true, err
			}
		case <-r.clientDone:
			r.sendDisconnect(encoding.ReasonNormalDisconnection)
			return 0, true, nil
		case <-ctx.Done():
			r.sendDisconnect(encoding.ReasonNormalDisconnection)
			return 0, true, ctx.Err()
		}
	}
}

// writePacket encodes the packet into the reused buffer, enforces the
// server's maximum packet size, and writes it in one call. The runner is the
// stream's only writer, so packet bytes never interleave.
func (r *Runner) writePacket(pkt encoding.Packet) error {
	r.writeBuf.Reset()
	if err := pkt.Encode(&r.writeBuf); err != nil {
		return err
	}

	if max := r.state.MaxOutgoingPacketSize(); max > 0 && r.writeBuf.Len() > int(max) {
		return ErrPacketTooLarge
	}

	n, err := r.conn.Write(r.writeBuf.Bytes())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	r.lastSent = time.Now()
	r.metrics.ObserveSent(n)
	return nil
}

// checkKeepAlive pings when the connection has been idle for the keep-alive
// interval and fails the connection when a ping goes unanswered for one and
// a half intervals.
func (r *Runner) checkKeepAlive() error {
	keepAlive := time.Duration(r.state.EffectiveKeepAlive()) * time.Second
	if keepAlive == 0 {
		return nil
	}

	now := time.Now()

	if r.pingOutstanding {
		if now.Sub(r.pingSent) >= keepAlive+keepAlive/2 {
			return ErrKeepAliveTimeout
		}
		return nil
	}

	if now.Sub(r.lastSent) >= keepAlive {
		if err := r.writePacket(&encoding.PingReqPacket{}); err != nil {
			return err
		}
		r.pingSent = now
		r.pingOutstanding = true
		r.metrics.ObservePing()
	}

	return nil
}
