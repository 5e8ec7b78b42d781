package hub

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabsync/internal/app/lock"
	"collabsync/internal/app/presence"
	"collabsync/internal/app/protocol"
	"collabsync/internal/app/relay"
	"collabsync/internal/app/roster"
	"collabsync/internal/app/store"
	"collabsync/internal/app/user"
	"collabsync/internal/pkg/errs"
	"collabsync/internal/pkg/logx"
)

const (
	relayBuffer   = 256
	inboundBuffer = 256
	relayTimeout  = 2 * time.Second
	finalizeWait  = 30 * time.Second
)

type inbound struct {
	peer *Peer
	msg  protocol.Message
}

// Snapshot is a read-only view of a running session.
type Snapshot struct {
	Session         store.Session              `json:"session"`
	Participants    []user.User                `json:"participants"`
	Presence        map[string]presence.Record `json:"presence"`
	Locks           map[string]string          `json:"locks"`
	MaxParticipants int                        `json:"maxParticipants"`
	JournalSize     int                        `json:"journalSize"`
}

// Session is the hub of one collaboration session on this node. All state is owned by the
// Run loop; mu only lets Snapshot read it from other goroutines.
type Session struct {
	ID string

	opts    *Options
	cleanup chan<- *Session

	register   chan *Peer
	unregister chan *Peer
	inbound    chan inbound
	relayIn    chan relay.Envelope
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}

	mu           sync.RWMutex
	info         store.Session
	roster       *roster.Roster
	presence     *presence.Tracker
	locks        *lock.Coordinator
	journal      *Journal
	peers        map[string]*Peer
	lastPresence map[string]map[protocol.MessageType]protocol.Message
	lastUpdate   map[string]protocol.Message

	// background tracks store writes started by the run loop.
	background sync.WaitGroup

	now    func() time.Time
	logger zerolog.Logger
}

func newSession(info store.Session, opts *Options, cleanup chan<- *Session) *Session {
	s := &Session{
		ID:           info.ID,
		opts:         opts,
		cleanup:      cleanup,
		register:     make(chan *Peer),
		unregister:   make(chan *Peer),
		inbound:      make(chan inbound, inboundBuffer),
		relayIn:      make(chan relay.Envelope, relayBuffer),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		info:         info,
		roster:       roster.New(opts.MaxParticipants),
		presence:     presence.NewTracker(),
		locks:        lock.NewCoordinator(nil),
		journal:      NewJournal(opts.JournalLimit),
		peers:        make(map[string]*Peer),
		lastPresence: make(map[string]map[protocol.MessageType]protocol.Message),
		lastUpdate:   make(map[string]protocol.Message),
		now:          time.Now,
		logger:       logx.Participant("hub", info.ID, ""),
	}
	s.roster.OnLeave = func(userID string) {
		s.presence.Remove(userID)
		delete(s.lastPresence, userID)
	}
	return s
}

// Stop ends the session; connected participants receive CloseSessionClosed.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Received stop signal.")
		close(s.stop)
	})
}

// Done is closed once the session stopped accepting participants.
func (s *Session) Done() <-chan struct{} { return s.done }

// Closed reports whether Done is closed.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Attach registers a connection of u and starts its pumps. It fails with ErrSessionClosed when
// the session has ended. Rejections (full session, duplicate id) are reported to the
// connection itself.
func (s *Session) Attach(conn *websocket.Conn, u user.User) (*Peer, error) {
	p := newPeer(s, conn, u)

	select {
	case s.register <- p:
	case <-s.done:
		return nil, errs.NewError(errs.ErrSessionClosed)
	}

	go p.WritePump()
	go p.ReadPump()
	return p, nil
}

// Snapshot returns the current participants, presence, and locks.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Session:         s.info,
		Participants:    s.roster.List(),
		Presence:        s.presence.Snapshot(),
		Locks:           s.locks.Locks(),
		MaxParticipants: s.roster.Max(),
		JournalSize:     s.journal.Len(),
	}
}

// submit hands a decoded frame of p to the run loop. It reports false once the session is done.
func (s *Session) submit(p *Peer, msg protocol.Message) bool {
	select {
	case s.inbound <- inbound{peer: p, msg: msg}:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) leave(p *Peer) {
	select {
	case s.unregister <- p:
	case <-s.done:
	}
}

// deliverRelay never blocks: the relay may call it from another session's run loop.
func (s *Session) deliverRelay(env relay.Envelope) {
	select {
	case s.relayIn <- env:
	default:
		s.logger.Warn().Str("origin", env.Origin).Msg("Relay queue full, dropping frame.")
	}
}

// Run is the event loop of the session. It returns when the session is stopped, when the last
// local participant leaves, or when nobody joined within the empty timeout.
func (s *Session) Run() {
	defer s.teardown()

	emptyTimer := time.NewTimer(s.opts.EmptyTimeout)
	defer emptyTimer.Stop()

	interval := s.opts.SweepInterval
	if interval <= 0 {
		interval = presence.DefaultSweepInterval
	}
	sweep := time.NewTicker(interval)
	defer sweep.Stop()

	for {
		select {
		case p := <-s.register:
			s.mu.Lock()
			s.handleRegister(p)
			s.mu.Unlock()

		case p := <-s.unregister:
			s.mu.Lock()
			s.handleUnregister(p)
			empty := len(s.peers) == 0
			s.mu.Unlock()
			if empty {
				s.logger.Info().Msg("Last participant left. Closing session.")
				return
			}

		case in := <-s.inbound:
			s.mu.Lock()
			s.handleInbound(in.peer, in.msg)
			empty := len(s.peers) == 0
			s.mu.Unlock()
			if empty {
				return
			}

		case env := <-s.relayIn:
			s.mu.Lock()
			s.handleRelay(env)
			empty := len(s.peers) == 0
			s.mu.Unlock()
			if empty {
				return
			}

		case <-sweep.C:
			s.mu.Lock()
			s.sweep()
			s.mu.Unlock()

		case <-emptyTimer.C:
			s.mu.RLock()
			empty := len(s.peers) == 0
			s.mu.RUnlock()
			if empty {
				s.logger.Info().Dur("timeout", s.opts.EmptyTimeout).Msg("Nobody joined. Closing session.")
				return
			}

		case <-s.stop:
			s.logger.Info().Msg("Session forced stop initiated.")
			return
		}
	}
}

func (s *Session) teardown() {
	s.mu.Lock()
	close(s.done)
	for _, p := range s.peers {
		p.close(protocol.CloseSessionClosed, "session closed")
	}
	s.peers = make(map[string]*Peer)
	entries := s.journal.Entries()
	s.info.Active = false
	last := s.info.LastActivity
	s.mu.Unlock()

	select {
	case s.cleanup <- s:
	default:
		s.logger.Warn().Msg("Manager cleanup channel full. Skipping cleanup notification.")
	}

	s.background.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), finalizeWait)
	defer cancel()

	if key, err := s.opts.Archive.Archive(ctx, s.ID, entries); err != nil {
		s.logger.Error().Err(err).Msg("Failed to archive journal.")
	} else if key != "" {
		s.logger.Info().Str("key", key).Int("entries", len(entries)).Msg("Journal archived.")
	}

	if last.IsZero() {
		last = s.now()
	}
	if err := s.opts.Store.CloseSession(ctx, s.ID, last); err != nil {
		s.logger.Error().Err(err).Msg("Failed to mark session closed.")
	}

	s.logger.Info().Msg("Session Run loop finished.")
}

// persist runs a store write off the run loop.
func (s *Session) persist(what string, fn func(ctx context.Context, st store.Store) error) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := fn(ctx, s.opts.Store); err != nil {
			s.logger.Warn().Err(err).Str("op", what).Msg("Store write failed.")
		}
	}()
}

func (s *Session) touch(at time.Time) {
	if at.After(s.info.LastActivity) {
		s.info.LastActivity = at
	}
}
