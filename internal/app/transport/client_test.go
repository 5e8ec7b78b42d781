package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"collabsync/internal/app/protocol"
	"collabsync/internal/pkg/errs"
)

type testServer struct {
	*httptest.Server
	conns chan *websocket.Conn
	query chan string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		conns: make(chan *websocket.Conn, 8),
		query: make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.query <- r.URL.RawQuery
		ts.conns <- ws
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) endpoint() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?room=blue"
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-ts.conns:
		t.Cleanup(func() { ws.Close() })
		return ws
	case <-time.After(3 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

// readApp reads the next non-ping message.
func readApp(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("server read: %v", err)
		}
		msg, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != protocol.TypePing {
			return msg
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func cursor(t *testing.T, x float64) protocol.Message {
	t.Helper()
	msg, err := protocol.NewMessage(protocol.TypeCursorMove, "s1", "alice", protocol.CursorPayload{X: x, Y: 1})
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func fastOptions() Options {
	return Options{
		HeartbeatInterval:     time.Hour,
		ReconnectInitialDelay: 10 * time.Millisecond,
		ReconnectMaxAttempts:  3,
		HandshakeTimeout:      time.Second,
	}
}

func TestReconnectBackOffSchedule(t *testing.T) {
	policy := NewReconnectBackOff(time.Second, 5)

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, w := range want {
		if got := policy.NextBackOff(); got != w {
			t.Fatalf("attempt %d: delay = %v, want %v", i+1, got, w)
		}
	}
	if got := policy.NextBackOff(); got != backoff.Stop {
		t.Fatalf("sixth call = %v, want Stop", got)
	}
}

func TestQueuedMessagesFlushInOrder(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient("s1", "alice", fastOptions())
	defer c.Disconnect()

	for i := 1; i <= 3; i++ {
		if err := c.Send(cursor(t, float64(i))); err != nil {
			t.Fatal(err)
		}
	}
	if c.Pending() != 3 {
		t.Fatalf("pending = %d, want 3", c.Pending())
	}

	if err := c.Connect(context.Background(), ts.endpoint()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("state = %s", c.State())
	}

	query := <-ts.query
	for _, want := range []string{"room=blue", "sessionId=s1", "userId=alice"} {
		if !strings.Contains(query, want) {
			t.Fatalf("query %q lacks %q", query, want)
		}
	}

	ws := ts.accept(t)
	for i := 1; i <= 3; i++ {
		var p protocol.CursorPayload
		if err := readApp(t, ws).Bind(&p); err != nil {
			t.Fatal(err)
		}
		if p.X != float64(i) {
			t.Fatalf("message %d carried x=%v", i, p.X)
		}
	}
	waitFor(t, "empty queue", func() bool { return c.Pending() == 0 })
}

func TestConnectFailureIsConnectionError(t *testing.T) {
	ts := newTestServer(t)
	endpoint := ts.endpoint()
	ts.Close()

	c := NewClient("s1", "alice", fastOptions())
	err := c.Connect(context.Background(), endpoint)
	if !errs.HasCode(err, errs.ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", c.State())
	}

	if err := c.Connect(context.Background(), "ftp://example.com"); !errs.HasCode(err, errs.ErrConnection) {
		t.Fatalf("bad scheme err = %v", err)
	}
}

func TestDisconnectIsIdempotentAndKeepsQueue(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient("s1", "alice", fastOptions())

	var mu sync.Mutex
	var states []State
	c.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := c.Connect(context.Background(), ts.endpoint()); err != nil {
		t.Fatal(err)
	}
	ts.accept(t)

	c.Disconnect()
	c.Disconnect()

	if err := c.Send(cursor(t, 1)); err != nil {
		t.Fatal(err)
	}
	if c.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", c.Pending())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestReconnectsAndDeliversQueuedMessages(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient("s1", "alice", fastOptions())
	defer c.Disconnect()

	if err := c.Connect(context.Background(), ts.endpoint()); err != nil {
		t.Fatal(err)
	}
	first := ts.accept(t)
	first.Close()

	second := ts.accept(t)
	waitFor(t, "reconnect", func() bool { return c.State() == StateConnected })
	if c.Attempts() != 0 {
		t.Fatalf("attempts = %d after reconnecting", c.Attempts())
	}

	if err := c.Send(cursor(t, 7)); err != nil {
		t.Fatal(err)
	}
	var p protocol.CursorPayload
	if err := readApp(t, second).Bind(&p); err != nil || p.X != 7 {
		t.Fatalf("got %+v, %v", p, err)
	}
}

func TestReconnectExhaustedReportsError(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient("s1", "alice", fastOptions())

	errCh := make(chan error, 1)
	c.OnError(func(err error) { errCh <- err })

	if err := c.Connect(context.Background(), ts.endpoint()); err != nil {
		t.Fatal(err)
	}
	ws := ts.accept(t)
	ts.Close()
	ws.Close()

	select {
	case err := <-errCh:
		if !errs.HasCode(err, errs.ErrReconnectExhausted) {
			t.Fatalf("err = %v", err)
		}
		if !strings.Contains(err.Error(), "3 reconnect attempts") {
			t.Fatalf("message = %q", err.Error())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no fatal error reported")
	}
	waitFor(t, "disconnected", func() bool { return c.State() == StateDisconnected })
}

func TestDispatchSkipsUnknownAndMalformed(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient("s1", "alice", fastOptions())
	defer c.Disconnect()

	got := make(chan protocol.Message, 4)
	c.On(protocol.TypeCursorMove, func(m protocol.Message) { got <- m })

	if err := c.Connect(context.Background(), ts.endpoint()); err != nil {
		t.Fatal(err)
	}
	ws := ts.accept(t)

	ping, _ := protocol.NewMessage(protocol.TypePing, "s1", "bob", nil)
	pingFrame, _ := ping.Encode()
	move := cursor(t, 3)
	move.UserID = "bob"
	moveFrame, _ := move.Encode()

	for _, frame := range [][]byte{
		pingFrame,
		[]byte(`{"type":"hologram","userId":"bob"}`),
		[]byte(`not json`),
		moveFrame,
	} {
		if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case m := <-got:
		if m.Type != protocol.TypeCursorMove || m.UserID != "bob" {
			t.Fatalf("dispatched %+v", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("cursor_move not dispatched")
	}
	select {
	case m := <-got:
		t.Fatalf("unexpected dispatch %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
	if c.State() != StateConnected {
		t.Fatal("malformed frames must not drop the link")
	}
}

func TestDispatchPeerPingToPingHandlers(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient("s1", "alice", fastOptions())
	defer c.Disconnect()

	got := make(chan protocol.Message, 1)
	c.On(protocol.TypePing, func(m protocol.Message) { got <- m })

	if err := c.Connect(context.Background(), ts.endpoint()); err != nil {
		t.Fatal(err)
	}
	ws := ts.accept(t)

	ping, _ := protocol.NewMessage(protocol.TypePing, "s1", "bob", nil)
	frame, _ := ping.Encode()
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-got:
		if m.UserID != "bob" {
			t.Fatalf("ping from %q", m.UserID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("ping not dispatched")
	}
}

func TestHeartbeatWritesPing(t *testing.T) {
	ts := newTestServer(t)
	opts := fastOptions()
	opts.HeartbeatInterval = 20 * time.Millisecond
	c := NewClient("s1", "alice", opts)
	defer c.Disconnect()

	if err := c.Connect(context.Background(), ts.endpoint()); err != nil {
		t.Fatal(err)
	}
	ws := ts.accept(t)

	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, frame, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	msg, err := protocol.Decode(frame)
	if err != nil || msg.Type != protocol.TypePing || msg.UserID != "alice" {
		t.Fatalf("got %+v, %v", msg, err)
	}
}

func TestApplicationCloseCodeStopsReconnecting(t *testing.T) {
	cases := []struct {
		code int
		want int
	}{
		{protocol.CloseSessionReplaced, errs.ErrSessionReplaced},
		{protocol.CloseSessionClosed, errs.ErrSessionClosed},
		{protocol.CloseRejected, errs.ErrConnection},
	}

	for _, tc := range cases {
		ts := newTestServer(t)
		c := NewClient("s1", "alice", fastOptions())

		errCh := make(chan error, 1)
		c.OnError(func(err error) { errCh <- err })

		if err := c.Connect(context.Background(), ts.endpoint()); err != nil {
			t.Fatal(err)
		}
		ws := ts.accept(t)
		<-ts.query
		closeMsg := websocket.FormatCloseMessage(tc.code, "bye")
		if err := ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)); err != nil {
			t.Fatal(err)
		}

		select {
		case err := <-errCh:
			if !errs.HasCode(err, tc.want) {
				t.Fatalf("close %d: err = %v, want code %d", tc.code, err, tc.want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("close %d: no error reported", tc.code)
		}
		if c.State() != StateDisconnected {
			t.Fatalf("close %d: state = %s", tc.code, c.State())
		}

		select {
		case <-ts.conns:
			t.Fatalf("close %d: client reconnected", tc.code)
		case <-time.After(50 * time.Millisecond):
		}
	}
}
