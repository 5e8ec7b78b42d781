package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

const (
	// DefaultHeartbeatInterval is how often a ping envelope is written while connected.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultReconnectInitialDelay is the delay before the first reconnect attempt; each
	// following attempt doubles it.
	DefaultReconnectInitialDelay = 1 * time.Second

	// DefaultReconnectMaxAttempts bounds the attempts of one outage.
	DefaultReconnectMaxAttempts = 5

	// DefaultHandshakeTimeout bounds a single WebSocket handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	// timeout for writing one frame.
	writeWait = 10 * time.Second

	// maximum accepted inbound frame size.
	maxFrameSize = 64 << 10
)

// Dialer opens WebSocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options tunes a Client. Zero fields take the package defaults.
type Options struct {
	HeartbeatInterval     time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxAttempts  int
	HandshakeTimeout      time.Duration

	// Dialer defaults to a websocket.Dialer using HandshakeTimeout.
	Dialer Dialer

	// Header is sent with every handshake.
	Header http.Header
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.ReconnectInitialDelay <= 0 {
		o.ReconnectInitialDelay = DefaultReconnectInitialDelay
	}
	if o.ReconnectMaxAttempts <= 0 {
		o.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		}
	}
	return o
}

// readTimeout is how long the link may stay silent before it is considered dead. The server
// pings well within it.
func (o Options) readTimeout() time.Duration {
	return 2*o.HeartbeatInterval + writeWait
}

// NewReconnectBackOff returns the reconnect schedule: initial, 2*initial, 4*initial, ... for
// maxAttempts attempts, then backoff.Stop. There is no jitter.
func NewReconnectBackOff(initial time.Duration, maxAttempts int) backoff.BackOff {
	if initial <= 0 {
		initial = DefaultReconnectInitialDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultReconnectMaxAttempts
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = initial << uint(maxAttempts)
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithMaxRetries(exp, uint64(maxAttempts))
}
