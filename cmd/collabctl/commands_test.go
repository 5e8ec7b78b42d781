package main

import (
	"reflect"
	"strings"
	"testing"
)

type recorder struct {
	calls  []string
	locked bool
	data   map[string]any
}

func (r *recorder) SendCursorMove(x, y float64) {
	r.calls = append(r.calls, "cursor")
}

func (r *recorder) SendSelectionChange(ids []string) {
	r.calls = append(r.calls, "select:"+strings.Join(ids, "|"))
}

func (r *recorder) LockComponent(id string) bool {
	r.calls = append(r.calls, "lock:"+id)
	return r.locked
}

func (r *recorder) UnlockComponent(id string) {
	r.calls = append(r.calls, "unlock:"+id)
}

func (r *recorder) SendComponentUpdate(id string, data map[string]any) bool {
	r.calls = append(r.calls, "edit:"+id)
	r.data = data
	return true
}

func TestExecute(t *testing.T) {
	r := &recorder{locked: true}
	for _, line := range []string{"", "cursor 10 20.5", "select a, b", "select", "lock card", "unlock card", "edit card title=Hi x=1"} {
		if quit, err := execute(r, line); quit || err != nil {
			t.Fatalf("%q: quit=%v err=%v", line, quit, err)
		}
	}

	want := []string{"cursor", "select:a", "select:", "lock:card", "unlock:card", "edit:card"}
	if !reflect.DeepEqual(r.calls, want) {
		t.Fatalf("calls = %q", r.calls)
	}
	if !reflect.DeepEqual(r.data, map[string]any{"title": "Hi", "x": "1"}) {
		t.Fatalf("data = %v", r.data)
	}

	if quit, _ := execute(r, "quit"); !quit {
		t.Fatal("quit did not stop")
	}
}

func TestExecuteRejects(t *testing.T) {
	r := &recorder{}
	for _, line := range []string{"cursor 1", "cursor a 1", "lock", "lock card", "edit card", "edit card title", "dance"} {
		if _, err := execute(r, line); err == nil {
			t.Fatalf("%q accepted", line)
		}
	}
}

func TestJoinIdentity(t *testing.T) {
	id, sessionID, err := joinIdentity(joinFlags{sessionID: "s1", userID: "bob", role: "viewer"})
	if err != nil || sessionID != "s1" || id.Name != "bob" || id.Permissions.CanEdit {
		t.Fatalf("identity = %+v %s %v", id, sessionID, err)
	}
	if _, _, err := joinIdentity(joinFlags{userID: "bob", role: "viewer"}); err == nil {
		t.Fatal("missing session accepted")
	}
	if _, _, err := joinIdentity(joinFlags{sessionID: "s1", userID: "bob", role: "admin"}); err == nil {
		t.Fatal("unknown role accepted")
	}
}
