package roster

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"collabsync/internal/app/user"
	"collabsync/internal/pkg/errs"
)

func member(id string) user.User {
	return user.User{ID: id, Name: id}
}

func TestAddCapacityAndDuplicates(t *testing.T) {
	r := New(2)

	if err := r.Add(member("alice")); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(member("alice")); !errs.HasCode(err, errs.ErrDuplicateParticipant) {
		t.Fatalf("want duplicate error, got %v", err)
	}
	if err := r.Add(member("bob")); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(member("carol")); !errs.HasCode(err, errs.ErrSessionFull) {
		t.Fatalf("want session full, got %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d", r.Len())
	}
}

func TestOnUserJoinReplacesExisting(t *testing.T) {
	r := New(1)

	isNew, err := r.OnUserJoin(user.User{ID: "alice", Name: "Alice"})
	if err != nil || !isNew {
		t.Fatalf("first join: new=%v err=%v", isNew, err)
	}

	isNew, err = r.OnUserJoin(user.User{ID: "alice", Name: "Alice (tab 2)"})
	if err != nil || isNew {
		t.Fatalf("rejoin at capacity must replace: new=%v err=%v", isNew, err)
	}
	if u, _ := r.Get("alice"); u.Name != "Alice (tab 2)" || !u.IsOnline || u.Color != user.ColorFor("alice") {
		t.Fatalf("entry not replaced: %+v", u)
	}

	if _, err := r.OnUserJoin(member("bob")); !errs.HasCode(err, errs.ErrSessionFull) {
		t.Fatalf("want session full, got %v", err)
	}
}

func TestNeverExceedsCapacity(t *testing.T) {
	const capacity = 4
	r := New(capacity)
	rng := rand.New(rand.NewPCG(1, 2))

	for step := range 2000 {
		id := fmt.Sprintf("u%d", rng.IntN(12))
		if rng.IntN(3) == 0 {
			r.OnUserLeave(id)
		} else if rng.IntN(2) == 0 {
			_ = r.Add(member(id))
		} else {
			_, _ = r.OnUserJoin(member(id))
		}

		if r.Len() > capacity {
			t.Fatalf("step %d: roster grew to %d", step, r.Len())
		}
	}
}

func TestColorStableAcrossRejoins(t *testing.T) {
	r := New(0)
	_, _ = r.OnUserJoin(member("dana"))
	first, _ := r.Get("dana")

	r.OnUserLeave("dana")
	_, _ = r.OnUserJoin(member("dana"))
	second, _ := r.Get("dana")

	if first.Color != second.Color {
		t.Fatalf("color changed across rejoin: %s vs %s", first.Color, second.Color)
	}
	if r.Max() != DefaultMaxParticipants {
		t.Fatalf("default capacity = %d", r.Max())
	}
}

func TestOnUserLeaveCascades(t *testing.T) {
	r := New(3)
	var left []string
	r.OnLeave = func(id string) { left = append(left, id) }

	_ = r.Add(member("alice"))
	if !r.OnUserLeave("alice") || r.OnUserLeave("alice") {
		t.Fatal("leave should succeed once")
	}
	if len(left) != 1 || left[0] != "alice" {
		t.Fatalf("cascade hook calls = %v", left)
	}
}

func TestTouchAndList(t *testing.T) {
	r := New(3)
	_ = r.Add(member("zoe"))
	_ = r.Add(member("adam"))

	r.SetOnline("zoe", false)
	later := time.Now().Add(time.Hour)
	r.Touch("zoe", later)

	list := r.List()
	if len(list) != 2 || list[0].ID != "adam" || list[1].ID != "zoe" {
		t.Fatalf("list not sorted: %+v", list)
	}
	if !list[1].IsOnline || !list[1].LastSeen.Equal(later) {
		t.Fatalf("touch did not refresh: %+v", list[1])
	}
}
