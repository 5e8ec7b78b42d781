/*
Package session composes the collaboration core behind one facade.

A Session wires a Transport to a roster, a presence tracker and a lock coordinator. It turns
local actions into wire messages and applies inbound messages to that state. Observers are told
about every change. All state mutation goes through the session mutex, so the components it
owns never see concurrent access.
*/
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"collabsync/internal/app/lock"
	"collabsync/internal/app/presence"
	"collabsync/internal/app/protocol"
	"collabsync/internal/app/roster"
	"collabsync/internal/app/transport"
	"collabsync/internal/app/user"
	"collabsync/internal/pkg/logx"
)

// DefaultConflictWindow is how long a local edit stays eligible for conflict detection.
const DefaultConflictWindow = 2 * time.Second

// how long Disconnect waits for the farewell messages to be written.
const drainTimeout = time.Second

// Status is the connection state exposed to callers. Reconnect attempts stay inside
// StatusConnecting.
type Status = transport.State

const (
	StatusDisconnected = transport.StateDisconnected
	StatusConnecting   = transport.StateConnecting
	StatusConnected    = transport.StateConnected
)

// Transport is the connection a Session drives. *transport.Client implements it.
type Transport interface {
	Connect(ctx context.Context, endpoint string) error
	Disconnect()
	Drain(ctx context.Context) error
	Send(msg protocol.Message) error
	State() transport.State
	On(t protocol.MessageType, h transport.HandlerFunc)
	OnStateChange(fn func(transport.State))
	OnError(fn func(error))
}

// Config describes the session and the local participant.
type Config struct {
	SessionID string
	ProjectID string
	OwnerID   string

	// Identity is the already validated local user.
	Identity user.Identity

	MaxParticipants  int
	PresenceTimeout  time.Duration
	SweepInterval    time.Duration
	ConflictStrategy lock.Strategy
	ConflictWindow   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = roster.DefaultMaxParticipants
	}
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = presence.DefaultTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = presence.DefaultSweepInterval
	}
	if c.ConflictStrategy == "" {
		c.ConflictStrategy = lock.StrategyLastWriteWins
	}
	if c.ConflictWindow <= 0 {
		c.ConflictWindow = DefaultConflictWindow
	}
	return c
}

// Info is the session metadata kept by the facade.
type Info struct {
	SessionID    string    `json:"sessionId"`
	ProjectID    string    `json:"projectId,omitempty"`
	OwnerID      string    `json:"ownerId,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	LastActivity time.Time `json:"lastActivity"`
	Active       bool      `json:"active"`
}

// Session is the facade a caller uses to take part in one collaboration session.
type Session struct {
	cfg    Config
	tr     Transport
	logger zerolog.Logger

	// now is replaceable in tests.
	now func() time.Time

	mu       sync.Mutex
	self     user.User
	roster   *roster.Roster
	presence *presence.Tracker
	locks    *lock.Coordinator
	info     Info
	status   Status

	// recent holds the local user's latest edit per object for conflict detection.
	recent map[string]lock.ComponentEvent

	sweepStop chan struct{}
	sweepDone chan struct{}

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObsID int
}

// New builds a disconnected session on top of tr and registers its inbound handlers.
func New(cfg Config, tr Transport) *Session {
	cfg = cfg.withDefaults()

	s := &Session{
		cfg:       cfg,
		tr:        tr,
		logger:    logx.Participant("session", cfg.SessionID, cfg.Identity.ID),
		now:       time.Now,
		roster:    roster.New(cfg.MaxParticipants),
		presence:  presence.NewTracker(),
		info:      Info{SessionID: cfg.SessionID, ProjectID: cfg.ProjectID, OwnerID: cfg.OwnerID},
		status:    StatusDisconnected,
		recent:    make(map[string]lock.ComponentEvent),
		observers: make(map[int]Observer),
	}
	s.self = user.FromIdentity(cfg.Identity, s.now())
	s.locks = lock.NewCoordinator(s.sendLockEvent)
	s.roster.OnLeave = func(userID string) {
		s.presence.Remove(userID)
	}

	tr.On(protocol.TypeUserJoin, s.handleUserJoin)
	tr.On(protocol.TypeUserLeave, s.handleUserLeave)
	tr.On(protocol.TypeCursorMove, s.handleCursorMove)
	tr.On(protocol.TypeSelectionChange, s.handleSelectionChange)
	tr.On(protocol.TypeAwareness, s.handleAwareness)
	tr.On(protocol.TypeComponentUpdate, s.handleComponentUpdate)
	tr.On(protocol.TypeError, s.handleError)
	tr.On(protocol.TypePing, s.handlePing)
	tr.OnStateChange(s.handleStateChange)
	tr.OnError(s.handleTransportError)

	return s
}

// Subscribe registers o and returns a function that removes it.
func (s *Session) Subscribe(o Observer) (unsubscribe func()) {
	s.obsMu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = o
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Session) notify(notices ...notice) {
	if len(notices) == 0 {
		return
	}

	s.obsMu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.obsMu.Unlock()

	for _, n := range notices {
		for _, o := range observers {
			n(o)
		}
	}
}

// Connect adds the local user to the roster, starts the presence sweep and opens the transport.
// The user_join announcement goes out every time the transport reaches the connected state.
func (s *Session) Connect(ctx context.Context, endpoint string) error {
	s.mu.Lock()
	if !s.info.Active {
		now := s.now()
		s.self.LastSeen = now
		if _, err := s.roster.OnUserJoin(s.self); err != nil {
			s.mu.Unlock()
			return err
		}
		s.self, _ = s.roster.Get(s.self.ID)
		s.presence.UpdateAwareness(s.self.ID, presence.Partial{}, now)
		s.info.Active = true
		s.info.StartedAt = now
		s.info.LastActivity = now
		s.startSweepLocked()
	}
	users := s.roster.List()
	s.mu.Unlock()
	s.notify(rosterNotice(users))

	if err := s.tr.Connect(ctx, endpoint); err != nil {
		s.logger.Warn().Err(err).Msg("Collaboration connect failed")
		return err
	}
	return nil
}

// Disconnect releases the local user's locks, announces user_leave and closes the transport.
// Remote roster, presence and lock state is dropped. Calling it twice is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if !s.info.Active {
		s.mu.Unlock()
		return
	}

	for _, objectID := range s.locks.HeldBy(s.self.ID) {
		s.locks.UnlockComponent(objectID)
	}
	s.sendLocked(protocol.TypeUserLeave, protocol.UserPayload{User: s.self})

	s.info.Active = false
	s.info.LastActivity = s.now()
	stop, done := s.sweepStop, s.sweepDone
	s.sweepStop, s.sweepDone = nil, nil

	s.roster.Reset()
	s.presence.Reset()
	s.locks.Reset()
	clear(s.recent)
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	if err := s.tr.Drain(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("Farewell messages not flushed before disconnect")
	}
	cancel()
	s.tr.Disconnect()

	s.notify(rosterNotice(nil), presenceNotice(map[string]presence.Record{}), locksNotice(map[string]string{}))
}

// SendCursorMove records the local cursor and broadcasts it.
func (s *Session) SendCursorMove(x, y float64) {
	s.UpdateAwareness(presence.Partial{Cursor: &presence.Point{X: x, Y: y}})
}

// SendSelectionChange records the local selection and broadcasts it.
func (s *Session) SendSelectionChange(ids []string) {
	if ids == nil {
		ids = []string{}
	}
	s.UpdateAwareness(presence.Partial{Selection: ids})
}

// UpdateAwareness merges p into the local presence record and broadcasts the present fields:
// cursor as cursor_move, selection as selection_change, tool and typing as awareness.
func (s *Session) UpdateAwareness(p presence.Partial) {
	s.mu.Lock()
	s.presence.UpdateAwareness(s.self.ID, p, s.now())

	if p.Cursor != nil {
		s.sendLocked(protocol.TypeCursorMove, protocol.CursorPayload{X: p.Cursor.X, Y: p.Cursor.Y})
	}
	if p.Selection != nil {
		s.sendLocked(protocol.TypeSelectionChange, protocol.SelectionPayload{SelectedIDs: p.Selection})
	}
	if p.Tool != nil || p.IsTyping != nil {
		s.sendLocked(protocol.TypeAwareness, protocol.AwarenessPayload{Tool: p.Tool, IsTyping: p.IsTyping})
	}
	snapshot := s.presence.Snapshot()
	s.mu.Unlock()

	s.notify(presenceNotice(snapshot))
}

// SendComponentUpdate broadcasts an edit of objectID. It returns false, sending nothing, when
// the local user may not edit the object.
func (s *Session) SendComponentUpdate(objectID string, data map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.locks.CanEditComponent(s.self, objectID) {
		return false
	}

	msg, ok := s.sendLocked(protocol.TypeComponentUpdate, protocol.ComponentPayload{
		ObjectID: objectID,
		Action:   protocol.ActionUpdate,
		Data:     data,
	})
	if ok {
		s.recent[objectID] = lock.ComponentEvent{
			ObjectID: objectID,
			UserID:   s.self.ID,
			MsgID:    msg.ID,
			Time:     msg.Timestamp,
			Data:     data,
		}
	}
	return true
}

// LockComponent takes the advisory lock on objectID and broadcasts it.
func (s *Session) LockComponent(objectID string) bool {
	s.mu.Lock()
	ok := s.locks.LockComponent(s.self, objectID)
	locks := s.locks.Locks()
	s.mu.Unlock()

	if ok {
		s.notify(locksNotice(locks))
	}
	return ok
}

// UnlockComponent releases objectID unconditionally and broadcasts the release.
func (s *Session) UnlockComponent(objectID string) {
	s.mu.Lock()
	s.locks.UnlockComponent(objectID)
	locks := s.locks.Locks()
	s.mu.Unlock()

	s.notify(locksNotice(locks))
}

// sendLockEvent is the coordinator's emit hook; it runs with mu held.
func (s *Session) sendLockEvent(ev lock.Event) {
	s.sendLocked(protocol.TypeComponentUpdate, protocol.ComponentPayload{
		ObjectID: ev.ObjectID,
		Action:   ev.Action,
	})
}

// sendLocked builds and queues a message from the local user. It must be called with mu held.
func (s *Session) sendLocked(t protocol.MessageType, payload any) (protocol.Message, bool) {
	msg, err := protocol.NewMessage(t, s.cfg.SessionID, s.self.ID, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(t)).Msg("Failed to build message")
		return protocol.Message{}, false
	}
	if err := s.tr.Send(msg); err != nil {
		s.logger.Error().Err(err).Str("type", string(t)).Msg("Failed to queue message")
		return protocol.Message{}, false
	}
	s.info.LastActivity = s.now()
	return msg, true
}

func (s *Session) permissions() user.Permissions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self.Permissions
}

// Permission projections of the local user.

func (s *Session) CanEdit() bool                   { return s.permissions().CanEdit }
func (s *Session) CanDelete() bool                 { return s.permissions().CanDelete }
func (s *Session) CanAddComponents() bool          { return s.permissions().CanAddComponents }
func (s *Session) CanExportCode() bool             { return s.permissions().CanExportCode }
func (s *Session) CanManageCollaboration() bool    { return s.permissions().CanManageCollaboration }
func (s *Session) CanAccessAdvancedFeatures() bool { return s.permissions().CanAccessAdvancedFeatures }

// CanEditComponent reports whether the local user may edit objectID right now.
func (s *Session) CanEditComponent(objectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks.CanEditComponent(s.self, objectID)
}

// Self returns the local participant.
func (s *Session) Self() user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Status returns the connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Roster returns the participants sorted by id.
func (s *Session) Roster() []user.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.List()
}

// Cursors returns the known cursor of every participant that has one.
func (s *Session) Cursors() map[string]presence.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.Cursors()
}

// Selections returns the known selection of every participant that has one.
func (s *Session) Selections() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.Selections()
}

// Presence returns a copy of every presence record.
func (s *Session) Presence() map[string]presence.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.Snapshot()
}

// Locks returns a copy of the lock table.
func (s *Session) Locks() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks.Locks()
}

// Info returns the session metadata.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}
