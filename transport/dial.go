// Package transport establishes the duplex byte streams the client core
// consumes: plain TCP, TLS, and MQTT-over-WebSocket. The core itself never
// dials; it accepts whatever stream the caller hands it.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
)

var (
	// ErrUnsupportedScheme indicates a URL scheme the transport cannot dial
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrInvalidTLSConfig indicates an incomplete TLS configuration
	ErrInvalidTLSConfig = errors.New("invalid TLS configuration")
)

// Config carries the optional dialing parameters.
type Config struct {
	// TLS applies to tls:// and wss:// targets; nil uses library defaults
	TLS *TLSConfig

	// DialTimeout bounds connection establishment; 0 means no timeout
	// beyond the context's
	DialTimeout time.Duration

	// WebSocketHeader is sent with the websocket upgrade request
	WebSocketHeader http.Header
}

// TLSConfig is the client-side TLS configuration.
type TLSConfig struct {
	// CertFile and KeyFile hold the client certificate, both or neither
	CertFile string
	KeyFile  string

	// CAFile holds the root certificates to trust instead of the system pool
	CAFile string

	// ServerName overrides the hostname used for certificate verification
	ServerName string

	MinVersion         uint16
	InsecureSkipVerify bool
}

// Build materializes the tls.Config.
func (tc *TLSConfig) Build() (*tls.Config, error) {
	config := &tls.Config{
		MinVersion:         tc.MinVersion,
		ServerName:         tc.ServerName,
		InsecureSkipVerify: tc.InsecureSkipVerify,
	}
	if config.MinVersion == 0 {
		config.MinVersion = tls.VersionTLS12
	}

	if (tc.CertFile == "") != (tc.KeyFile == "") {
		return nil, ErrInvalidTLSConfig
	}
	if tc.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(tc.CertFile, tc.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	if tc.CAFile != "" {
		caCert, err := os.ReadFile(tc.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		config.RootCAs = caCertPool
	}

	return config, nil
}

// Dial connects to an MQTT endpoint given as a URL. Supported schemes:
// tcp:// and mqtt:// for plain TCP, tls:// ssl:// and mqtts:// for TLS,
// ws:// and wss:// for MQTT over WebSocket.
func Dial(ctx context.Context, rawURL string, cfg *Config) (net.Conn, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	switch u.Scheme {
	case "tcp", "mqtt":
		var d net.Dialer
		return d.DialContext(ctx, "tcp", hostPort(u, "1883"))

	case "tls", "ssl", "mqtts":
		tlsConfig, err := buildTLS(cfg, u)
		if err != nil {
			return nil, err
		}
		d := &tls.Dialer{Config: tlsConfig}
		return d.DialContext(ctx, "tcp", hostPort(u, "8883"))

	case "ws", "wss":
		return dialWebSocket(ctx, u, cfg)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

func buildTLS(cfg *Config, u *url.URL) (*tls.Config, error) {
	if cfg.TLS == nil {
		return &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}, nil
	}
	tlsConfig, err := cfg.TLS.Build()
	if err != nil {
		return nil, err
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = u.Hostname()
	}
	return tlsConfig, nil
}

func hostPort(u *url.URL, defaultPort string) string {
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultPort)
	}
	return host
}
