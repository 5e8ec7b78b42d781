package hub

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabsync/internal/app/protocol"
	"collabsync/internal/app/user"
	"collabsync/internal/pkg/errs"
	"collabsync/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Peer is one participant connection of a Session.
type Peer struct {
	session *Session
	conn    *websocket.Conn
	user    user.User

	// a buffered channel used to queue frames waiting to be written to the connection.
	send chan []byte

	// closeCode and closeReason are set by the run loop before send is closed.
	closeCode   int
	closeReason string
	closed      bool

	logger zerolog.Logger
}

func newPeer(s *Session, conn *websocket.Conn, u user.User) *Peer {
	return &Peer{
		session:   s,
		conn:      conn,
		user:      u,
		send:      make(chan []byte, sendBuffer),
		closeCode: websocket.CloseNormalClosure,
		logger:    logx.Participant("hub", s.ID, u.ID),
	}
}

// User returns the participant behind the connection.
func (p *Peer) User() user.User { return p.user }

// ReadPump reads frames from the connection and hands them to the session run loop until the
// connection fails.
func (p *Peer) ReadPump() {
	defer p.cleanupOnDisconnect()

	p.conn.SetReadLimit(maxMessageSize)

	if err := p.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		p.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Info().Err(err).Msg("Error reading message (client close/going away)")
			}
			break
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(frame)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Client sent invalid frame")
			continue
		}

		if !p.session.submit(p, msg) {
			break
		}
	}
}

func (p *Peer) cleanupOnDisconnect() {
	p.session.leave(p)

	if err := p.conn.Close(); err != nil {
		p.logger.Debug().Err(err).Msg("Connection close error")
	}
}

// WritePump writes queued frames and heartbeats until send is closed, then sends the close
// frame chosen by the run loop.
func (p *Peer) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := p.conn.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-p.send:
			if !p.writeQueued(frame, ok) {
				return
			}

		case <-ticker.C:
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.logger.Debug().Err(err).Msg("Error writing ping")
				return
			}
		}
	}
}

// writeQueued reports whether WritePump should continue.
func (p *Peer) writeQueued(frame []byte, ok bool) bool {
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		p.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		closeMessage := websocket.FormatCloseMessage(p.closeCode, p.closeReason)
		if err := p.conn.WriteMessage(websocket.CloseMessage, closeMessage); err != nil {
			p.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		p.logger.Warn().Err(err).Msg("Error writing message")
		return false
	}
	return true
}

// The methods below are only called from the session run loop.

// enqueue reports false when the peer is closed or its queue is full.
func (p *Peer) enqueue(frame []byte) bool {
	if p.closed {
		return false
	}
	select {
	case p.send <- frame:
		return true
	default:
		p.logger.Warn().Int("queue_len", len(p.send)).Msg("Send queue full")
		return false
	}
}

func (p *Peer) sendMessage(msg protocol.Message) bool {
	frame, err := msg.Encode()
	if err != nil {
		p.logger.Error().Err(err).Msg("Error encoding message for peer")
		return false
	}
	return p.enqueue(frame)
}

// SendError queues an error frame for err.
func (p *Peer) SendError(err error) {
	var payload protocol.ErrorPayload

	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		payload = protocol.ErrorPayload{Code: customErr.Code, Message: customErr.Message}
	} else {
		payload = protocol.ErrorPayload{Code: errs.ErrUnknown, Message: fmt.Sprintf("Internal server error: %v", err)}
	}

	msg, msgErr := protocol.NewMessage(protocol.TypeError, p.session.ID, "", payload)
	if msgErr != nil {
		p.logger.Error().Err(msgErr).Msg("Failed to build error message")
		return
	}
	p.sendMessage(msg)
}

// close makes WritePump send a close frame with code after the queued frames.
func (p *Peer) close(code int, reason string) {
	if p.closed {
		return
	}
	p.closeCode = code
	p.closeReason = reason
	p.closed = true
	close(p.send)
}

// Kick replaces this connection by a newer one of the same user.
func (p *Peer) Kick(reason string) {
	p.logger.Warn().
		Int("close_code", protocol.CloseSessionReplaced).
		Str("reason", reason).
		Msg("Kicking connection.")
	p.close(protocol.CloseSessionReplaced, reason)
}

// Reject sends err as an error frame and closes the connection.
func (p *Peer) Reject(err *errs.CustomError) {
	p.logger.Warn().Int("code", err.Code).Msg("Join rejected.")
	p.SendError(err)
	p.close(protocol.CloseRejected, err.Message)
}
