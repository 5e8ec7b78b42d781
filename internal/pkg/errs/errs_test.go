package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNewErrorFormatsTemplate(t *testing.T) {
	err := NewError(ErrSessionFull, 10)

	if err.Code != ErrSessionFull {
		t.Fatalf("got code %d, want %d", err.Code, ErrSessionFull)
	}
	if err.Message != "This session is full (10 participants)." {
		t.Fatalf("unexpected message %q", err.Message)
	}
	if err.Status != http.StatusOK {
		t.Fatalf("got status %d, want default %d", err.Status, http.StatusOK)
	}
}

func TestNewErrorUnknownCode(t *testing.T) {
	err := NewError(424242)
	if err.Code != ErrUnknown {
		t.Fatalf("got code %d, want ErrUnknown", err.Code)
	}
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("got status %d", err.Status)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewError(ErrConnection).Wrap(cause)

	if !errors.Is(err, cause) {
		t.Fatal("wrapped error does not unwrap to its cause")
	}

	outer := fmt.Errorf("connect: %w", err)
	if !HasCode(outer, ErrConnection) {
		t.Fatal("HasCode did not see through fmt wrapping")
	}
	if HasCode(outer, ErrSessionFull) {
		t.Fatal("HasCode matched the wrong code")
	}
	if CodeOf(errors.New("plain")) != ErrUnknown {
		t.Fatal("plain errors should map to ErrUnknown")
	}
}

func TestNewErrorCauseDetail(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrConnection, cause)
	if !errors.Is(err, cause) {
		t.Fatal("error detail was not recorded as cause")
	}
}
