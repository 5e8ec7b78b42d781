package protocol

import (
	"errors"
	"testing"
)

func TestNewMessageIDsAreUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		msg, err := NewMessage(TypeCursorMove, "s1", "alice", CursorPayload{X: 1, Y: 2})
		if err != nil {
			t.Fatal(err)
		}
		if _, dup := seen[msg.ID]; dup {
			t.Fatalf("duplicate id %s", msg.ID)
		}
		seen[msg.ID] = struct{}{}
		if msg.Timestamp == 0 || msg.SessionID != "s1" || msg.UserID != "alice" {
			t.Fatalf("envelope not filled: %+v", msg)
		}
	}
}

func TestDecodeUnknownTypeIsNotAnError(t *testing.T) {
	msg, err := Decode([]byte(`{"id":"1","type":"viewport_change","userId":"bob","sessionId":"s1","timestamp":5,"data":{"zoom":2}}`))
	if err != nil {
		t.Fatalf("unknown type must decode, got %v", err)
	}
	if msg.Known() {
		t.Fatal("viewport_change should not be known")
	}
	if string(msg.Data) != `{"zoom":2}` {
		t.Fatalf("raw data lost: %s", msg.Data)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, frame := range []string{`not json`, `{"id":"1"}`, `[]`} {
		if _, err := Decode([]byte(frame)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) = %v, want ErrMalformed", frame, err)
		}
	}
}

func TestBindComponentPayload(t *testing.T) {
	msg, err := NewMessage(TypeComponentUpdate, "s1", "alice", ComponentPayload{
		ObjectID: "button-1",
		Action:   ActionUpdate,
		Data:     map[string]any{"label": "Save"},
	})
	if err != nil {
		t.Fatal(err)
	}

	frame, err := msg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}

	var payload ComponentPayload
	if err := decoded.Bind(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.ObjectID != "button-1" || payload.Action != ActionUpdate || payload.Data["label"] != "Save" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	var empty Message
	if err := empty.Bind(&payload); err == nil {
		t.Fatal("binding an empty payload should fail")
	}
}
