/*
Package hub is the server side of the collaboration protocol.

This file defines the Manager, which creates, tracks, retrieves and cleans up the live Session
instances of this node, and routes frames relayed from other nodes to them.
*/
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabsync/internal/app/archive"
	"collabsync/internal/app/lock"
	"collabsync/internal/app/relay"
	"collabsync/internal/app/roster"
	"collabsync/internal/app/store"
	"collabsync/internal/app/user"
	"collabsync/internal/pkg/errs"
	"collabsync/internal/pkg/logx"
	"collabsync/internal/pkg/randx"
)

const (
	// DefaultEmptyTimeout is how long a session nobody joined stays open.
	DefaultEmptyTimeout = 5 * time.Minute

	// DefaultConflictWindow is the maximum timestamp distance of two edits that race.
	DefaultConflictWindow = 2 * time.Second

	storeTimeout = 5 * time.Second
)

// Options configures a Manager and every session it runs.
type Options struct {
	MaxParticipants int

	// ReplaceDuplicates kicks the older connection of a user id that joins twice; otherwise
	// the newer one is rejected.
	ReplaceDuplicates bool

	ConflictStrategy lock.Strategy
	ConflictWindow   time.Duration
	EmptyTimeout     time.Duration
	PresenceTimeout  time.Duration
	SweepInterval    time.Duration
	JournalLimit     int

	// NodeID identifies this node on the relay; random when empty.
	NodeID string

	Relay   relay.Relay
	Store   store.Store
	Archive archive.Archiver
}

func (o Options) withDefaults() Options {
	if o.MaxParticipants <= 0 {
		o.MaxParticipants = roster.DefaultMaxParticipants
	}
	if o.ConflictStrategy == "" {
		o.ConflictStrategy = lock.StrategyLastWriteWins
	}
	if o.ConflictWindow <= 0 {
		o.ConflictWindow = DefaultConflictWindow
	}
	if o.EmptyTimeout <= 0 {
		o.EmptyTimeout = DefaultEmptyTimeout
	}
	if o.NodeID == "" {
		o.NodeID = randx.MessageID()
	}
	if o.Relay == nil {
		o.Relay = relay.NewLocal(o.NodeID)
	}
	if o.Store == nil {
		o.Store = store.NewMemory()
	}
	if o.Archive == nil {
		o.Archive = archive.Noop{}
	}
	return o
}

// Manager coordinates the live sessions of this node.
type Manager struct {
	opts Options

	// sessions maps session ids to the live Session instances.
	sessions map[string]*Session

	// mu protects the sessions map and closing.
	mu sync.RWMutex

	// closing is set once Shutdown begins; no session starts afterwards.
	closing bool

	// the channel used by Sessions to ask the Manager to forget them.
	cleanup chan *Session

	// wg waits for runCleanupLoop; running waits for session Run loops.
	wg      sync.WaitGroup
	running sync.WaitGroup

	stopRelay context.CancelFunc
	logger    zerolog.Logger
}

// NewManager starts the cleanup loop and subscribes to the relay.
func NewManager(opts Options) (*Manager, error) {
	opts = opts.withDefaults()

	m := &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
		cleanup:  make(chan *Session, 64),
		logger:   logx.Component("hub").With().Str("node_id", opts.NodeID).Logger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := opts.Relay.Subscribe(ctx, m.route); err != nil {
		cancel()
		return nil, err
	}
	m.stopRelay = cancel

	m.wg.Add(1)
	go m.runCleanupLoop()

	return m, nil
}

// NodeID returns the relay identity of this node.
func (m *Manager) NodeID() string { return m.opts.NodeID }

// MaxParticipants returns the configured session capacity.
func (m *Manager) MaxParticipants() int { return m.opts.MaxParticipants }

// Store returns the session metadata store.
func (m *Manager) Store() store.Store { return m.opts.Store }

// Archive returns the journal archiver.
func (m *Manager) Archive() archive.Archiver { return m.opts.Archive }

func (m *Manager) runCleanupLoop() {
	defer m.wg.Done()

	for s := range m.cleanup {
		m.deleteSession(s)
	}

	m.logger.Info().Msg("Cleanup loop stopped.")
}

func (m *Manager) deleteSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.sessions[s.ID]; ok && cur == s {
		delete(m.sessions, s.ID)
		m.logger.Info().Str("session_id", s.ID).Msg("Session removed.")
	}
}

// route hands a relayed envelope to the local session it belongs to. Sessions without local
// participants ignore the traffic.
func (m *Manager) route(env relay.Envelope) {
	m.mu.RLock()
	s := m.sessions[env.SessionID]
	m.mu.RUnlock()

	if s != nil {
		s.deliverRelay(env)
	}
}

// Create starts a new session described by info and records it in the store. It fails with
// ErrSessionExists when the id is live or already stored, and with ErrSessionClosed once
// Shutdown has begun.
func (m *Manager) Create(ctx context.Context, info store.Session) (*Session, error) {
	if m.isClosing() {
		return nil, errs.NewError(errs.ErrSessionClosed)
	}
	if m.Get(info.ID) != nil {
		return nil, errs.NewError(errs.ErrSessionExists)
	}

	now := time.Now()
	info.StartedAt, info.LastActivity, info.Active = now, now, true

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := m.opts.Store.CreateSession(ctx, info); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, errs.NewError(errs.ErrSessionExists)
		}
		return nil, errs.NewError(errs.ErrUnknown).Wrap(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, errs.NewError(errs.ErrSessionClosed)
	}
	if cur, ok := m.sessions[info.ID]; ok && !cur.Closed() {
		return nil, errs.NewError(errs.ErrSessionExists)
	}
	return m.startLocked(info), nil
}

// Join returns the live session id, starting it when needed. It fails with ErrSessionClosed
// once Shutdown has begun.
func (m *Manager) Join(ctx context.Context, id string) (*Session, error) {
	if s := m.Get(id); s != nil {
		return s, nil
	}
	if m.isClosing() {
		return nil, errs.NewError(errs.ErrSessionClosed)
	}

	now := time.Now()
	info := store.Session{ID: id, StartedAt: now, LastActivity: now, Active: true}

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := m.opts.Store.UpsertSession(sctx, info); err != nil {
		return nil, errs.NewError(errs.ErrUnknown).Wrap(err)
	}
	if stored, err := m.opts.Store.GetSession(sctx, id); err == nil {
		info = stored
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, errs.NewError(errs.ErrSessionClosed)
	}
	if cur, ok := m.sessions[id]; ok && !cur.Closed() {
		return cur, nil
	}
	return m.startLocked(info), nil
}

func (m *Manager) isClosing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closing
}

func (m *Manager) startLocked(info store.Session) *Session {
	s := newSession(info, &m.opts, m.cleanup)
	m.sessions[info.ID] = s

	m.running.Add(1)
	go func() {
		defer m.running.Done()
		s.Run()
	}()

	m.logger.Info().Str("session_id", info.ID).Int("max_participants", m.opts.MaxParticipants).Msg("Session started.")
	return s
}

// Attach joins u to session id over conn. It retries once when the session closes between
// lookup and registration.
func (m *Manager) Attach(ctx context.Context, id string, conn *websocket.Conn, u user.User) (*Peer, error) {
	var lastErr error
	for range 2 {
		s, err := m.Join(ctx, id)
		if err != nil {
			return nil, err
		}
		p, err := s.Attach(conn, u)
		if err == nil {
			return p, nil
		}
		lastErr = err
		if !errs.HasCode(err, errs.ErrSessionClosed) {
			break
		}
	}
	return nil, lastErr
}

// Get returns the live session id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok || s.Closed() {
		return nil
	}
	return s
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close ends session id and disconnects its participants.
func (m *Manager) Close(id string) error {
	s := m.Get(id)
	if s == nil {
		return errs.NewError(errs.ErrSessionNotFound)
	}
	s.Stop()
	<-s.Done()
	return nil
}

// Shutdown stops every session, waits for their journals to be archived, and stops the
// cleanup loop. Calling it twice is a no-op.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	m.closing = true
	m.logger.Info().Msg("Shutting down hub...")
	for _, s := range m.sessions {
		s.Stop()
	}
	m.mu.Unlock()

	m.running.Wait()
	m.stopRelay()

	close(m.cleanup)
	m.wg.Wait()

	m.logger.Info().Msg("Hub shutdown complete.")
}
