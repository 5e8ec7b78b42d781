package randx

import (
	"strings"
	"testing"
)

func TestSessionID(t *testing.T) {
	seen := make(map[string]struct{})
	for range 50 {
		id, err := SessionID()
		if err != nil {
			t.Fatal(err)
		}
		if len(id) != SessionIDLength || !IsValidIdentifier(id) {
			t.Fatalf("invalid session id %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestGuestID(t *testing.T) {
	id, err := GuestID()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, GuestIDPrefix) || len(id) != len(GuestIDPrefix)+GuestIDRawLength {
		t.Fatalf("unexpected guest id %q", id)
	}
}

func TestIsValidIdentifier(t *testing.T) {
	valid := []string{"s1", "alice", "user-42", "proj_9.v2"}
	invalid := []string{"", "has space", "semi;colon", strings.Repeat("a", MaxIdentifierLength+1)}

	for _, s := range valid {
		if !IsValidIdentifier(s) {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range invalid {
		if IsValidIdentifier(s) {
			t.Errorf("%q should be invalid", s)
		}
	}
}
