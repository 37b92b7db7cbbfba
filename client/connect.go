package client

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"time"

	"github.com/axmq/axon/encoding"
	"github.com/axmq/axon/metrics"
	"github.com/axmq/axon/pkg/logger"
	"github.com/axmq/axon/session"
)

// Config carries the optional collaborators of a connection. The zero value
// is usable: no logging, no metrics, queue sized from the negotiated receive
// maximums.
type Config struct {
	Logger  logger.Logger
	Metrics *metrics.Metrics

	// QueueSize overrides the handle-to-runner queue capacity. When 0 the
	// queue holds ReceiveMaximum + server receive maximum entries, enough to
	// stage every message that can be in flight simultaneously.
	QueueSize int

	// Interceptors wrap the handler passed to Run, first one outermost.
	Interceptors []Interceptor

	// SessionSnapshot restores inflight state captured from a previous
	// connection (Client.SessionSnapshot). Meaningful with CleanStart false;
	// restored QoS 1/2 flows keep their packet identifiers and can be
	// resubmitted with Client.ResendPending.
	SessionSnapshot []byte
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Connect performs the MQTT handshake over an already-established duplex
// stream: it writes CONNECT, awaits CONNACK, and on success returns the
// caller-facing handle and the runner that must be driven on its own
// goroutine. The stream is owned by the runner from here on.
//
// A CONNACK with a non-success reason code yields a *ConnectError. If the
// context carries a deadline and the stream supports deadlines, the
// handshake is bounded by it.
func Connect(ctx context.Context, conn io.ReadWriteCloser, opts *ConnectOptions, cfg *Config) (*Client, *Runner, error) {
	if opts == nil {
		opts = NewConnectOptions("")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}

	pkt, err := opts.connectPacket()
	if err != nil {
		return nil, nil, err
	}

	if dl, ok := ctx.Deadline(); ok {
		if d, can := conn.(deadliner); can {
			_ = d.SetDeadline(dl)
			defer func() { _ = d.SetDeadline(time.Time{}) }()
		}
	}

	var buf bytes.Buffer
	if err := pkt.Encode(&buf); err != nil {
		return nil, nil, err
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return nil, nil, err
	}

	// The buffered reader is handed to the runner; bytes it has already
	// buffered belong to the session
	reader := bufio.NewReader(conn)

	in, err := encoding.ReadPacket(reader)
	if err != nil {
		return nil, nil, err
	}
	connack, ok := in.(*encoding.ConnAckPacket)
	if !ok {
		return nil, nil, ErrUnexpectedPacket
	}
	if connack.ReasonCode.IsError() {
		return nil, nil, &ConnectError{
			ReasonCode: connack.ReasonCode,
			Properties: connack.Properties,
		}
	}

	state := session.New(opts.ClientID, opts.CleanStart, opts.ManualAcks, opts.TopicAliasMaximum)
	if len(cfg.SessionSnapshot) > 0 && !opts.CleanStart {
		if err := state.Restore(cfg.SessionSnapshot); err != nil {
			return nil, nil, err
		}
	}
	state.ApplyConnAck(connack, opts.KeepAlive)

	log.Debug("session established",
		"client_id", state.ClientID(),
		"session_present", connack.SessionPresent,
		"keep_alive", state.EffectiveKeepAlive())

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = int(opts.ReceiveMaximum) + int(state.ServerReceiveMaximum())
	}

	queue := make(chan outbound, queueSize)
	done := make(chan struct{})

	client := &Client{
		queue: queue,
		done:  done,
		pkids: state.PacketIDs(),
		state: state,
	}

	runner := &Runner{
		conn:         conn,
		reader:       reader,
		state:        state,
		queue:        queue,
		clientDone:   done,
		log:          log,
		metrics:      cfg.Metrics,
		interceptors: cfg.Interceptors,
		connack:      connack,
		pendingAcks:  make(map[uint16]encoding.QoS),
	}

	return client, runner, nil
}
