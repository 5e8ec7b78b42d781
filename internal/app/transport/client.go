/*
Package transport maintains the client side of a collaboration WebSocket.

A Client owns a single connection to the sync server. It queues outbound messages while the
link is down and flushes them in FIFO order once it is up again. Inbound frames are decoded
and dispatched to the handlers registered per message type. It writes a heartbeat while
connected. When the link drops it reconnects on an exponential schedule, and it reports a
fatal error once the schedule is exhausted.
*/
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabsync/internal/app/protocol"
	"collabsync/internal/pkg/errs"
	"collabsync/internal/pkg/logx"
)

// State is the connection state reported to OnStateChange listeners.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// HandlerFunc consumes one inbound message. Handlers run on the read goroutine and must not block.
type HandlerFunc func(msg protocol.Message)

// link is one live WebSocket connection. A Client replaces its link on every reconnect.
type link struct {
	ws   *websocket.Conn
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newLink(ws *websocket.Conn) *link {
	return &link{
		ws:   ws,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		_ = l.ws.Close()
	})
}

// closeNormally sends a normal-closure frame before closing.
func (l *link) closeNormally() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = l.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	l.close()
}

// Client is a reconnecting WebSocket client bound to one (session, user) pair.
type Client struct {
	sessionID string
	userID    string
	opts      Options
	logger    zerolog.Logger

	mu       sync.Mutex
	state    State
	endpoint string
	link     *link
	pending  [][]byte
	attempts int

	// stop is closed by Disconnect and by giving up; nil while disconnected.
	stop chan struct{}

	listenersMu    sync.RWMutex
	handlers       map[protocol.MessageType][]HandlerFunc
	stateListeners []func(State)
	errorListeners []func(error)
}

// NewClient returns a disconnected client.
func NewClient(sessionID, userID string, opts Options) *Client {
	return &Client{
		sessionID: sessionID,
		userID:    userID,
		opts:      opts.withDefaults(),
		logger:    logx.Participant("transport", sessionID, userID),
		state:     StateDisconnected,
		handlers:  make(map[protocol.MessageType][]HandlerFunc),
	}
}

// On registers h for inbound messages of type t. Peers' pings reach only handlers registered
// for protocol.TypePing.
func (c *Client) On(t protocol.MessageType, h HandlerFunc) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.handlers[t] = append(c.handlers[t], h)
}

// OnStateChange registers a listener for state transitions.
func (c *Client) OnStateChange(fn func(State)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.stateListeners = append(c.stateListeners, fn)
}

// OnError registers a listener for fatal transport errors.
func (c *Client) OnError(fn func(error)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.errorListeners = append(c.errorListeners, fn)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of queued, unsent messages.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Attempts returns the reconnect attempts made in the current outage.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect dials endpoint with the session and user ids added to its query. It returns once the
// handshake completes; a failed handshake yields an ErrConnection error and leaves the client
// disconnected. Connecting an already active client is a no-op.
func (c *Client) Connect(ctx context.Context, endpoint string) error {
	target, err := c.buildURL(endpoint)
	if err != nil {
		return errs.NewError(errs.ErrConnection).Wrap(err)
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.endpoint = target
	c.stop = make(chan struct{})
	stop := c.stop
	changed := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	c.notifyState(changed, StateConnecting)

	ws, err := c.dial(ctx, target)
	if err != nil {
		c.mu.Lock()
		changed := false
		if c.stop == stop {
			c.stop = nil
			changed = c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()
		c.notifyState(changed, StateDisconnected)

		c.logger.Warn().Err(err).Str("endpoint", target).Msg("Handshake failed")
		return errs.NewError(errs.ErrConnection).Wrap(err)
	}

	if !c.attach(ws, stop) {
		_ = ws.Close()
		return errs.NewError(errs.ErrConnection).Wrap(errors.New("disconnected during handshake"))
	}

	c.logger.Info().Str("endpoint", target).Msg("Connected")
	return nil
}

// Disconnect closes the link normally and stops any reconnect in progress. Queued messages
// are kept for a later Connect. Calling it again is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.stop == nil && c.link == nil {
		c.mu.Unlock()
		return
	}
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	l := c.link
	c.link = nil
	c.attempts = 0
	changed := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if l != nil {
		l.closeNormally()
	}
	c.notifyState(changed, StateDisconnected)
	c.logger.Info().Msg("Disconnected")
}

// Send queues msg for delivery. Messages are written in the order they were queued; a message
// in flight when the link drops is written again after reconnecting.
func (c *Client) Send(msg protocol.Message) error {
	frame, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", msg.Type, err)
	}

	c.mu.Lock()
	c.pending = append(c.pending, frame)
	l := c.link
	c.mu.Unlock()

	if l != nil {
		signal(l)
	}
	return nil
}

// Drain waits until the queue is empty or ctx is done. It returns at once while no link is up.
func (c *Client) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		idle := len(c.pending) == 0 || c.link == nil
		c.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func signal(l *link) {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// setStateLocked must be called with mu held. It reports whether the state changed.
func (c *Client) setStateLocked(s State) bool {
	if c.state == s {
		return false
	}
	c.state = s
	return true
}

func (c *Client) notifyState(changed bool, s State) {
	if !changed {
		return
	}
	c.listenersMu.RLock()
	listeners := c.stateListeners
	c.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(s)
	}
}

func (c *Client) notifyError(err error) {
	c.listenersMu.RLock()
	listeners := c.errorListeners
	c.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(err)
	}
}

func (c *Client) buildURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set("sessionId", c.sessionID)
	q.Set("userId", c.userID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Client) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	ws, resp, err := c.opts.Dialer.DialContext(ctx, target, c.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (http status %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return ws, nil
}

// attach installs ws as the live link unless the attempt it belongs to was cancelled.
func (c *Client) attach(ws *websocket.Conn, stop chan struct{}) bool {
	c.mu.Lock()
	if c.stop != stop {
		c.mu.Unlock()
		return false
	}
	l := newLink(ws)
	c.link = l
	c.attempts = 0
	changed := c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.notifyState(changed, StateConnected)

	go c.readLoop(l)
	go c.writeLoop(l)
	signal(l)
	return true
}

func (c *Client) readLoop(l *link) {
	l.ws.SetReadLimit(maxFrameSize)
	_ = l.ws.SetReadDeadline(time.Now().Add(c.opts.readTimeout()))

	l.ws.SetPingHandler(func(data string) error {
		_ = l.ws.SetReadDeadline(time.Now().Add(c.opts.readTimeout()))
		err := l.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, frame, err := l.ws.ReadMessage()
		if err != nil {
			c.linkDown(l, err)
			return
		}
		_ = l.ws.SetReadDeadline(time.Now().Add(c.opts.readTimeout()))
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Dropping malformed frame")
		return
	}
	c.listenersMu.RLock()
	handlers := c.handlers[msg.Type]
	c.listenersMu.RUnlock()

	if len(handlers) == 0 {
		if !msg.Known() {
			c.logger.Debug().Str("type", string(msg.Type)).Msg("Ignoring unknown message type")
		}
		return
	}

	for _, h := range handlers {
		h(msg)
	}
}

// writeLoop is the only goroutine writing data frames to l.
func (c *Client) writeLoop(l *link) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		if !c.flush(l) {
			return
		}

		select {
		case <-l.done:
			return
		case <-l.wake:
		case <-ticker.C:
			if err := c.writePing(l); err != nil {
				c.linkDown(l, err)
				return
			}
		}
	}
}

// flush writes queued frames until the queue is empty. It returns false once l is no longer
// the live link.
func (c *Client) flush(l *link) bool {
	for {
		c.mu.Lock()
		if c.link != l {
			c.mu.Unlock()
			return false
		}
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return true
		}
		frame := c.pending[0]
		c.mu.Unlock()

		if err := c.write(l, frame); err != nil {
			c.linkDown(l, err)
			return false
		}

		c.mu.Lock()
		if c.link != l {
			// the frame may be written twice; receivers see at-least-once delivery.
			c.mu.Unlock()
			return false
		}
		c.pending[0] = nil
		c.pending = c.pending[1:]
		c.mu.Unlock()
	}
}

func (c *Client) write(l *link, frame []byte) error {
	if err := l.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return l.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) writePing(l *link) error {
	msg, err := protocol.NewMessage(protocol.TypePing, c.sessionID, c.userID, nil)
	if err != nil {
		return err
	}
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.write(l, frame)
}

// linkDown retires l after a read or write failure and starts reconnecting. A server close
// with an application code ends the connection for good.
func (c *Client) linkDown(l *link, cause error) {
	var closeErr *websocket.CloseError
	if errors.As(cause, &closeErr) && protocol.IsTerminalClose(closeErr.Code) {
		c.terminate(l, closeErr)
		return
	}

	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		l.close()
		return
	}
	c.link = nil
	stop := c.stop
	endpoint := c.endpoint
	changed := c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	l.close()

	if websocket.IsUnexpectedCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Warn().Err(cause).Msg("Connection lost unexpectedly")
	} else {
		c.logger.Info().Err(cause).Msg("Connection closed")
	}

	c.notifyState(changed, StateConnecting)
	go c.reconnect(endpoint, stop)
}

func (c *Client) reconnect(endpoint string, stop chan struct{}) {
	policy := NewReconnectBackOff(c.opts.ReconnectInitialDelay, c.opts.ReconnectMaxAttempts)

	for {
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			c.giveUp(stop)
			return
		}

		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		c.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Scheduling reconnect")

		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-stop:
				cancel()
			case <-ctx.Done():
			}
		}()
		ws, err := c.dial(ctx, endpoint)
		cancel()

		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
			continue
		}
		if !c.attach(ws, stop) {
			_ = ws.Close()
			return
		}

		c.logger.Info().Int("attempt", attempt).Msg("Reconnected")
		return
	}
}

func (c *Client) giveUp(stop chan struct{}) {
	c.mu.Lock()
	if c.stop != stop {
		c.mu.Unlock()
		return
	}
	close(c.stop)
	c.stop = nil
	attempts := c.attempts
	changed := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	err := errs.NewError(errs.ErrReconnectExhausted, attempts)
	c.logger.Error().Err(err).Msg("Giving up on reconnecting")

	c.notifyState(changed, StateDisconnected)
	c.notifyError(err)
}

func (c *Client) terminate(l *link, closeErr *websocket.CloseError) {
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		l.close()
		return
	}
	c.link = nil
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.attempts = 0
	changed := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	l.close()

	var err error
	switch closeErr.Code {
	case protocol.CloseSessionReplaced:
		err = errs.NewError(errs.ErrSessionReplaced)
	case protocol.CloseSessionClosed:
		err = errs.NewError(errs.ErrSessionClosed)
	default:
		err = errs.NewError(errs.ErrConnection).Wrap(closeErr)
	}
	c.logger.Warn().Int("close_code", closeErr.Code).Str("reason", closeErr.Text).Msg("Server ended the connection")

	c.notifyState(changed, StateDisconnected)
	c.notifyError(err)
}
