package transport

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// dialWebSocket upgrades to a websocket carrying MQTT as binary messages,
// subprotocol "mqtt" per the MQTT 5.0 specification section 6.
func dialWebSocket(ctx context.Context, u *url.URL, cfg *Config) (net.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:        websocket.DefaultDialer.Proxy,
		Subprotocols: []string{"mqtt"},
	}

	if u.Scheme == "wss" {
		tlsConfig, err := buildTLS(cfg, u)
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsConfig
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), cfg.WebSocketHeader)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	return &wsConn{conn: conn}, nil
}

// wsConn adapts a websocket connection to net.Conn: writes become binary
// messages, reads drain messages as a byte stream.
type wsConn struct {
	conn   *websocket.Conn
	reader io.Reader
}

func (w *wsConn) Read(p []byte) (int, error) {
	for {
		if w.reader == nil {
			_, reader, err := w.conn.NextReader()
			if err != nil {
				return 0, err
			}
			w.reader = reader
		}

		n, err := w.reader.Read(p)
		if err == io.EOF {
			// Message exhausted; move to the next one
			w.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

func (w *wsConn) LocalAddr() net.Addr {
	return w.conn.LocalAddr()
}

func (w *wsConn) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

func (w *wsConn) SetDeadline(t time.Time) error {
	if err := w.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.conn.SetWriteDeadline(t)
}

func (w *wsConn) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

func (w *wsConn) SetWriteDeadline(t time.Time) error {
	return w.conn.SetWriteDeadline(t)
}
