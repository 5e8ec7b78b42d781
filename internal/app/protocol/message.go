/*
Package protocol defines the collaboration wire envelope and its type-specific payloads.

Every WebSocket text frame carries exactly one Message. Receivers must treat unknown message
types as no-ops so that newer peers can add types without breaking older ones.
*/
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"collabsync/internal/pkg/randx"
)

// MessageType is the discriminator of the envelope.
type MessageType string

const (
	TypeUserJoin        MessageType = "user_join"
	TypeUserLeave       MessageType = "user_leave"
	TypeCursorMove      MessageType = "cursor_move"
	TypeSelectionChange MessageType = "selection_change"
	TypeComponentUpdate MessageType = "component_update"
	TypePing            MessageType = "ping"

	// TypeAwareness carries tool and typing partials.
	TypeAwareness MessageType = "awareness"

	// TypeError is sent by the server when it rejects a participant or an action.
	TypeError MessageType = "error"
)

var knownTypes = map[MessageType]struct{}{
	TypeUserJoin:        {},
	TypeUserLeave:       {},
	TypeCursorMove:      {},
	TypeSelectionChange: {},
	TypeComponentUpdate: {},
	TypePing:            {},
	TypeAwareness:       {},
	TypeError:           {},
}

// ErrMalformed is returned by Decode for frames that are not a JSON envelope with a type.
var ErrMalformed = errors.New("protocol: malformed message")

// Message is the wire envelope.
type Message struct {
	// ID is unique per (sender, session); UUID v4.
	ID string `json:"id"`

	Type MessageType `json:"type"`

	// UserID is the sender.
	UserID string `json:"userId"`

	SessionID string `json:"sessionId"`

	// Timestamp is the send time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Data is the type-specific payload, kept raw so unknown types survive a round trip.
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds an envelope with a fresh id and the current time.
func NewMessage(msgType MessageType, sessionID, userID string, payload any) (Message, error) {
	msg := Message{
		ID:        randx.MessageID(),
		Type:      msgType,
		UserID:    userID,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("protocol: marshal %s payload: %w", msgType, err)
		}
		msg.Data = data
	}

	return msg, nil
}

// Decode parses a frame. Unknown types decode successfully; check Known before dispatching.
func Decode(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return msg, nil
}

// Encode marshals the envelope into a frame.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Known reports whether this build understands the message type.
func (m Message) Known() bool {
	_, ok := knownTypes[m.Type]
	return ok
}

// Bind unmarshals the payload into dst.
func (m Message) Bind(dst any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("protocol: %s message has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, dst); err != nil {
		return fmt.Errorf("protocol: decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Time returns Timestamp as a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}
