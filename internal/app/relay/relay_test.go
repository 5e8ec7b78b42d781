package relay

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"
)

func TestBusSkipsOrigin(t *testing.T) {
	bus := NewBus()
	a, b := bus.Node("a"), bus.Node("b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	got := map[string][]Envelope{}
	for _, n := range []Relay{a, b} {
		id := n.NodeID()
		if err := n.Subscribe(ctx, func(env Envelope) {
			mu.Lock()
			got[id] = append(got[id], env)
			mu.Unlock()
		}); err != nil {
			t.Fatal(err)
		}
	}

	if err := a.Publish(ctx, "s1", []byte(`{"type":"cursor_move"}`)); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got["a"]) != 0 {
		t.Fatalf("origin received its own envelope: %+v", got["a"])
	}
	if len(got["b"]) != 1 || got["b"][0].Origin != "a" || got["b"][0].SessionID != "s1" {
		t.Fatalf("b received %+v", got["b"])
	}
	if string(got["b"][0].Frame) != `{"type":"cursor_move"}` {
		t.Fatalf("frame = %s", got["b"][0].Frame)
	}
}

func TestLocalDeliversNothing(t *testing.T) {
	r := NewLocal("solo")
	delivered := false
	if err := r.Subscribe(context.Background(), func(Envelope) { delivered = true }); err != nil {
		t.Fatal(err)
	}
	if err := r.Publish(context.Background(), "s1", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if delivered {
		t.Fatal("single node must not receive its own frames")
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestChannel(t *testing.T) {
	if got := Channel("abc"); got != "collab:session:abc" {
		t.Fatalf("Channel = %q", got)
	}
}

// TestRedisRoundTrip runs against a real server when COLLAB_TEST_REDIS_URL is set.
func TestRedisRoundTrip(t *testing.T) {
	url := os.Getenv("COLLAB_TEST_REDIS_URL")
	if url == "" {
		t.Skip("COLLAB_TEST_REDIS_URL not set")
	}

	a, err := NewRedis(url, "node-a")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewRedis(url, "node-b")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Envelope, 2)
	if err := b.Subscribe(ctx, func(env Envelope) { got <- env }); err != nil {
		t.Fatal(err)
	}
	if err := a.Publish(ctx, "s1", []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case env := <-got:
		if env.Origin != "node-a" || env.SessionID != "s1" {
			t.Fatalf("envelope = %+v", env)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no envelope relayed")
	}
}
