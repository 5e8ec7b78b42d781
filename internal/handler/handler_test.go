package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"collabsync/internal/app/hub"
	"collabsync/internal/app/user"
	"collabsync/internal/configs"
	"collabsync/internal/pkg/errs"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newServer(t *testing.T, mutate func(*configs.AppConfig)) (*httptest.Server, *hub.Manager) {
	t.Helper()
	cfg := &configs.AppConfig{
		Environment:     "development",
		JWTSecret:       "test-secret",
		MaxParticipants: 2,
		DefaultRole:     user.RoleEditor,
	}
	if mutate != nil {
		mutate(cfg)
	}

	m, err := hub.NewManager(hub.Options{MaxParticipants: cfg.MaxParticipants, NodeID: "node-test"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Shutdown)

	srv := httptest.NewServer(Router(&AppDeps{Manager: m, Config: cfg}))
	t.Cleanup(srv.Close)
	return srv, m
}

func call(t *testing.T, method, url, token string, body any) (int, envelope) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: decode: %v", method, url, err)
	}
	return res.StatusCode, env
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	status, env := call(t, http.MethodPost, srv.URL+"/api/sessions", "", CreateSessionInput{ProjectID: "p1", OwnerID: "alice"})
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("create: %d %+v", status, env)
	}
	var data struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.SessionID == "" {
		t.Fatalf("create data = %s", env.Data)
	}
	return data.SessionID
}

func joinToken(t *testing.T, srv *httptest.Server, sessionID string, in JoinSessionInput) string {
	t.Helper()
	status, env := call(t, http.MethodPost, srv.URL+"/api/sessions/"+sessionID+"/join", "", in)
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("join: %d %+v", status, env)
	}
	var data struct {
		Token string        `json:"token"`
		User  user.Identity `json:"user"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		t.Fatalf("join data = %s", env.Data)
	}
	if data.User.ID != in.UserID && in.UserID != "" {
		t.Fatalf("joined as %+v", data.User)
	}
	return data.Token
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
}

func participantCount(t *testing.T, srv *httptest.Server, sessionID string) int {
	t.Helper()
	_, env := call(t, http.MethodGet, srv.URL+"/api/sessions/"+sessionID, "", nil)
	var snap struct {
		Participants []user.User `json:"participants"`
	}
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("snapshot = %s", env.Data)
	}
	return len(snap.Participants)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, nil)

	status, env := call(t, http.MethodGet, srv.URL+"/health", "", nil)
	if status != http.StatusOK || !strings.Contains(string(env.Data), `"node":"node-test"`) {
		t.Fatalf("health: %d %s", status, env.Data)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv, m := newServer(t, nil)
	id := createSession(t, srv)
	if m.Get(id) == nil {
		t.Fatal("created session is not running")
	}

	ownerToken := joinToken(t, srv, id, JoinSessionInput{UserID: "alice", Name: "Alice", Role: user.RoleOwner})
	editorToken := joinToken(t, srv, id, JoinSessionInput{UserID: "bob", Name: "Bob"})

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "token="+ownerToken), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	waitFor(t, "alice to join", func() bool { return participantCount(t, srv, id) == 1 })

	if status, env := call(t, http.MethodDelete, srv.URL+"/api/sessions/"+id, "", nil); status != http.StatusUnauthorized || env.Code != errs.ErrUnauthorized {
		t.Fatalf("anonymous close: %d %+v", status, env)
	}
	if status, env := call(t, http.MethodDelete, srv.URL+"/api/sessions/"+id, editorToken, nil); status != http.StatusForbidden || env.Code != errs.ErrPermissionDenied {
		t.Fatalf("editor close: %d %+v", status, env)
	}
	if status, env := call(t, http.MethodDelete, srv.URL+"/api/sessions/"+id, ownerToken, nil); status != http.StatusOK || env.Code != 0 {
		t.Fatalf("owner close: %d %+v", status, env)
	}

	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, 4003) {
				t.Fatalf("close err = %v", err)
			}
			break
		}
	}

	status, env := call(t, http.MethodGet, srv.URL+"/api/sessions/"+id, "", nil)
	if status != http.StatusOK || !strings.Contains(string(env.Data), `"projectId":"p1"`) {
		t.Fatalf("stored session: %d %s", status, env.Data)
	}
}

func TestGetUnknownSession(t *testing.T) {
	srv, _ := newServer(t, nil)

	status, env := call(t, http.MethodGet, srv.URL+"/api/sessions/nope", "", nil)
	if status != http.StatusNotFound || env.Code != errs.ErrSessionNotFound {
		t.Fatalf("get: %d %+v", status, env)
	}
}

func TestJoinValidation(t *testing.T) {
	srv, _ := newServer(t, nil)
	id := createSession(t, srv)

	status, env := call(t, http.MethodPost, srv.URL+"/api/sessions/"+id+"/join", "", JoinSessionInput{UserID: "alice", Role: "admin"})
	if status != http.StatusBadRequest || env.Code != errs.ErrInvalidParams {
		t.Fatalf("unknown role: %d %+v", status, env)
	}

	status, env = call(t, http.MethodPost, srv.URL+"/api/sessions/"+id+"/join", "", JoinSessionInput{UserID: "a b"})
	if status != http.StatusBadRequest || env.Code != errs.ErrInvalidParams {
		t.Fatalf("bad user id: %d %+v", status, env)
	}

	// Guests get an id and the default role.
	_ = joinToken(t, srv, id, JoinSessionInput{Name: "Visitor"})
}

func TestJoinRejectedWhenFull(t *testing.T) {
	srv, _ := newServer(t, nil)
	id := createSession(t, srv)

	for _, uid := range []string{"alice", "bob"} {
		ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "sessionId="+id+"&userId="+uid), nil)
		if err != nil {
			t.Fatal(err)
		}
		defer ws.Close()
	}
	waitFor(t, "two participants", func() bool { return participantCount(t, srv, id) == 2 })

	_, env := call(t, http.MethodPost, srv.URL+"/api/sessions/"+id+"/join", "", JoinSessionInput{UserID: "carol"})
	if env.Code != errs.ErrSessionFull || !strings.Contains(env.Message, "2 participants") {
		t.Fatalf("full join = %+v", env)
	}
	_ = joinToken(t, srv, id, JoinSessionInput{UserID: "alice"})
}

func TestWebSocketTokenPolicy(t *testing.T) {
	srv, _ := newServer(t, func(c *configs.AppConfig) { c.RequireToken = true })
	id := createSession(t, srv)

	_, res, err := websocket.DefaultDialer.Dial(wsURL(srv, "sessionId="+id+"&userId=alice"), nil)
	if err == nil || res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("tokenless dial: err=%v res=%v", err, res)
	}

	_, res, err = websocket.DefaultDialer.Dial(wsURL(srv, "token=garbage"), nil)
	if err == nil || res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token dial: err=%v res=%v", err, res)
	}

	token := joinToken(t, srv, id, JoinSessionInput{UserID: "alice"})
	_, res, err = websocket.DefaultDialer.Dial(wsURL(srv, "sessionId=other&token="+token), nil)
	if err == nil || res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("token for another session: err=%v res=%v", err, res)
	}

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "sessionId="+id+"&token="+token), nil)
	if err != nil {
		t.Fatal(err)
	}
	ws.Close()
}

func TestArchiveUnavailableWithoutStorage(t *testing.T) {
	srv, _ := newServer(t, nil)

	status, env := call(t, http.MethodGet, srv.URL+"/api/sessions/s1/archive", "", nil)
	if status != http.StatusNotFound || env.Code != errs.ErrArchiveUnavailable {
		t.Fatalf("archive: %d %+v", status, env)
	}
}
