package hub

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"collabsync/internal/app/lock"
	"collabsync/internal/app/presence"
	"collabsync/internal/app/protocol"
	"collabsync/internal/app/relay"
	"collabsync/internal/app/store"
	"collabsync/internal/app/user"
	"collabsync/internal/pkg/errs"
	"collabsync/internal/pkg/randx"
)

// Every handler below runs on the run loop with mu held.

func (s *Session) handleRegister(p *Peer) {
	id := p.user.ID

	if existing, ok := s.peers[id]; ok {
		if !s.opts.ReplaceDuplicates {
			p.Reject(errs.NewError(errs.ErrDuplicateParticipant, id))
			return
		}
		existing.Kick("Session replaced by new connection. Check other tabs.")
		delete(s.peers, id)
	} else if s.roster.Has(id) {
		// joined through another node
		p.Reject(errs.NewError(errs.ErrDuplicateParticipant, id))
		return
	}

	if _, err := s.roster.OnUserJoin(p.user); err != nil {
		p.Reject(asCustom(err))
		return
	}

	now := s.now()
	s.peers[id] = p
	s.presence.UpdateAwareness(id, presence.Partial{}, now)
	s.touch(now)

	s.logger.Info().
		Str("user_id", id).
		Int("total_users", s.roster.Len()).
		Msg("Participant joined.")

	s.replay(p)

	joined, _ := s.roster.Get(id)
	if msg, err := protocol.NewMessage(protocol.TypeUserJoin, s.ID, id, protocol.UserPayload{User: joined}); err == nil {
		s.fanout(msg, id, true)
	}

	at := s.info.LastActivity
	s.persist("touch", func(ctx context.Context, st store.Store) error {
		return st.TouchSession(ctx, s.ID, at)
	})
}

// replay brings a joiner up to date: the other participants, their last presence, then the
// lock table.
func (s *Session) replay(p *Peer) {
	for _, u := range s.roster.List() {
		if u.ID == p.user.ID {
			continue
		}
		if msg, err := protocol.NewMessage(protocol.TypeUserJoin, s.ID, u.ID, protocol.UserPayload{User: u}); err == nil {
			p.sendMessage(msg)
		}
	}

	for _, userID := range slices.Sorted(maps.Keys(s.lastPresence)) {
		if userID == p.user.ID {
			continue
		}
		byType := s.lastPresence[userID]
		for _, t := range []protocol.MessageType{protocol.TypeCursorMove, protocol.TypeSelectionChange, protocol.TypeAwareness} {
			if msg, ok := byType[t]; ok {
				p.sendMessage(msg)
			}
		}
	}

	locks := s.locks.Locks()
	for _, objectID := range slices.Sorted(maps.Keys(locks)) {
		msg, err := protocol.NewMessage(protocol.TypeComponentUpdate, s.ID, locks[objectID], protocol.ComponentPayload{
			ObjectID: objectID,
			Action:   protocol.ActionLock,
		})
		if err == nil {
			p.sendMessage(msg)
		}
	}
}

func (s *Session) handleUnregister(p *Peer) {
	id := p.user.ID
	current, ok := s.peers[id]
	if !ok || current != p {
		s.logger.Debug().Str("user_id", id).Msg("Ignoring unregister for stale connection.")
		return
	}
	s.removePeer(p)
}

// removePeer closes p, releases its locks, and announces the departure.
func (s *Session) removePeer(p *Peer) {
	id := p.user.ID
	delete(s.peers, id)
	p.close(websocket.CloseNormalClosure, "")

	s.releaseLocks(id)
	s.roster.OnUserLeave(id)

	if msg, err := protocol.NewMessage(protocol.TypeUserLeave, s.ID, id, protocol.UserPayload{User: p.user}); err == nil {
		s.fanout(msg, id, true)
	}

	s.logger.Info().
		Str("user_id", id).
		Int("total_users", s.roster.Len()).
		Msg("Participant left.")
}

func (s *Session) releaseLocks(userID string) {
	for _, objectID := range s.locks.ReleaseUser(userID) {
		msg, err := protocol.NewMessage(protocol.TypeComponentUpdate, s.ID, userID, protocol.ComponentPayload{
			ObjectID: objectID,
			Action:   protocol.ActionUnlock,
		})
		if err == nil {
			s.fanout(msg, userID, true)
		}
	}
}

func (s *Session) handleInbound(p *Peer, msg protocol.Message) {
	if s.peers[p.user.ID] != p {
		return
	}

	now := s.now()
	msg.UserID = p.user.ID
	msg.SessionID = s.ID
	if msg.Timestamp == 0 {
		msg.Timestamp = now.UnixMilli()
	}
	if msg.ID == "" {
		msg.ID = randx.MessageID()
	}

	s.presence.UpdateAwareness(msg.UserID, presence.Partial{}, now)
	s.roster.Touch(msg.UserID, now)
	s.touch(now)

	switch msg.Type {
	case protocol.TypePing:
		// carries the sender so nodes that expired it can take it back
		u, _ := s.roster.Get(msg.UserID)
		if ping, err := protocol.NewMessage(protocol.TypePing, s.ID, msg.UserID, protocol.UserPayload{User: u}); err == nil {
			ping.ID, ping.Timestamp = msg.ID, msg.Timestamp
			msg = ping
		}

	case protocol.TypeUserJoin, protocol.TypeUserLeave, protocol.TypeError:
		return

	case protocol.TypeCursorMove, protocol.TypeSelectionChange, protocol.TypeAwareness:
		if err := s.applyPresence(msg, now); err != nil {
			p.SendError(errs.NewError(errs.ErrInvalidParams).Wrap(err))
			return
		}

	case protocol.TypeComponentUpdate:
		var payload protocol.ComponentPayload
		if err := msg.Bind(&payload); err != nil {
			p.SendError(errs.NewError(errs.ErrInvalidParams).Wrap(err))
			return
		}
		if err := s.authorize(p.user, payload); err != nil {
			p.SendError(err)
			return
		}
		s.applyComponent(msg, payload, true)
	}

	s.fanout(msg, msg.UserID, true)
}

// authorize checks a component_update of u against its permissions and the lock table.
func (s *Session) authorize(u user.User, payload protocol.ComponentPayload) *errs.CustomError {
	if payload.ObjectID == "" {
		return errs.NewError(errs.ErrInvalidParams)
	}
	if !u.Permissions.CanEdit {
		return errs.NewError(errs.ErrPermissionDenied)
	}

	holder, held := s.locks.Owner(payload.ObjectID)
	lockedByOther := held && holder != u.ID

	switch payload.Action {
	case protocol.ActionUpdate, protocol.ActionLock:
		if lockedByOther {
			return errs.NewError(errs.ErrObjectLocked, payload.ObjectID)
		}
	case protocol.ActionUnlock:
		if lockedByOther && !u.Permissions.CanManageCollaboration {
			return errs.NewError(errs.ErrObjectLocked, payload.ObjectID)
		}
	default:
		return errs.NewError(errs.ErrInvalidParams)
	}
	return nil
}

func (s *Session) applyPresence(msg protocol.Message, now time.Time) error {
	partial, err := partialOf(msg)
	if err != nil {
		return err
	}
	s.presence.UpdateAwareness(msg.UserID, partial, now)

	byType, ok := s.lastPresence[msg.UserID]
	if !ok {
		byType = make(map[protocol.MessageType]protocol.Message)
		s.lastPresence[msg.UserID] = byType
	}
	byType[msg.Type] = msg
	return nil
}

func partialOf(msg protocol.Message) (presence.Partial, error) {
	switch msg.Type {
	case protocol.TypeCursorMove:
		var c protocol.CursorPayload
		if err := msg.Bind(&c); err != nil {
			return presence.Partial{}, err
		}
		return presence.Partial{Cursor: &presence.Point{X: c.X, Y: c.Y}}, nil

	case protocol.TypeSelectionChange:
		var sel protocol.SelectionPayload
		if err := msg.Bind(&sel); err != nil {
			return presence.Partial{}, err
		}
		if sel.SelectedIDs == nil {
			sel.SelectedIDs = []string{}
		}
		return presence.Partial{Selection: sel.SelectedIDs}, nil

	default:
		var a protocol.AwarenessPayload
		if err := msg.Bind(&a); err != nil {
			return presence.Partial{}, err
		}
		return presence.Partial{Tool: a.Tool, IsTyping: a.IsTyping}, nil
	}
}

// applyComponent updates the lock table or the journal. Conflicts are recorded only by the node
// the later edit entered through.
func (s *Session) applyComponent(msg protocol.Message, payload protocol.ComponentPayload, local bool) {
	switch payload.Action {
	case protocol.ActionLock, protocol.ActionUnlock:
		s.locks.ApplyRemote(lock.Event{ObjectID: payload.ObjectID, UserID: msg.UserID, Action: payload.Action})
		return
	}

	s.journal.Append(msg)

	prev, ok := s.lastUpdate[payload.ObjectID]
	s.lastUpdate[payload.ObjectID] = msg
	if !local || !ok || prev.UserID == msg.UserID || !s.raced(prev, msg) {
		return
	}

	var prevPayload protocol.ComponentPayload
	_ = prev.Bind(&prevPayload)

	earlier := lock.ComponentEvent{ObjectID: payload.ObjectID, UserID: prev.UserID, MsgID: prev.ID, Time: prev.Timestamp, Data: prevPayload.Data}
	later := lock.ComponentEvent{ObjectID: payload.ObjectID, UserID: msg.UserID, MsgID: msg.ID, Time: msg.Timestamp, Data: payload.Data}
	res := lock.ResolveConflict(earlier, later, s.opts.ConflictStrategy)

	s.logger.Info().
		Str("object_id", payload.ObjectID).
		Str("first", prev.UserID).
		Str("second", msg.UserID).
		Str("strategy", string(res.Strategy)).
		Str("winner", string(res.Winner)).
		Msg("Concurrent edits detected.")

	c := store.Conflict{
		SessionID:       s.ID,
		ObjectID:        payload.ObjectID,
		LocalUserID:     prev.UserID,
		RemoteUserID:    msg.UserID,
		LocalTimestamp:  prev.Timestamp,
		RemoteTimestamp: msg.Timestamp,
		Strategy:        string(res.Strategy),
		Winner:          string(res.Winner),
		DetectedAt:      s.now(),
	}
	s.persist("conflict", func(ctx context.Context, st store.Store) error {
		return st.RecordConflict(ctx, c)
	})
}

func (s *Session) raced(a, b protocol.Message) bool {
	d := a.Timestamp - b.Timestamp
	if d < 0 {
		d = -d
	}
	return d <= s.opts.ConflictWindow.Milliseconds()
}

// handleRelay applies a frame published by another node and delivers it to every local peer.
func (s *Session) handleRelay(env relay.Envelope) {
	msg, err := protocol.Decode(env.Frame)
	if err != nil || msg.SessionID != s.ID {
		return
	}
	if _, local := s.peers[msg.UserID]; local {
		return
	}

	now := s.now()
	if msg.Type != protocol.TypeUserLeave {
		s.presence.Touch(msg.UserID, now)
		s.roster.Touch(msg.UserID, now)
	}

	switch msg.Type {
	case protocol.TypePing:
		if s.roster.Has(msg.UserID) {
			s.presence.UpdateAwareness(msg.UserID, presence.Partial{}, now)
			break
		}
		var payload protocol.UserPayload
		if err := msg.Bind(&payload); err != nil || payload.User.ID != msg.UserID {
			return
		}
		if _, err := s.roster.OnUserJoin(payload.User); err != nil {
			return
		}
		s.presence.UpdateAwareness(msg.UserID, presence.Partial{}, now)
		rejoined, _ := s.roster.Get(msg.UserID)
		if join, err := protocol.NewMessage(protocol.TypeUserJoin, s.ID, msg.UserID, protocol.UserPayload{User: rejoined}); err == nil {
			s.fanout(join, "", false)
		}
		s.logger.Info().Str("user_id", msg.UserID).Msg("Remote participant is back.")

	case protocol.TypeUserJoin:
		var payload protocol.UserPayload
		if err := msg.Bind(&payload); err != nil {
			return
		}
		if _, err := s.roster.OnUserJoin(payload.User); err != nil {
			s.logger.Warn().Err(err).Str("user_id", payload.User.ID).Msg("Remote participant does not fit.")
			return
		}
		s.presence.UpdateAwareness(msg.UserID, presence.Partial{}, now)

	case protocol.TypeUserLeave:
		s.locks.ReleaseUser(msg.UserID)
		s.roster.OnUserLeave(msg.UserID)

	case protocol.TypeCursorMove, protocol.TypeSelectionChange, protocol.TypeAwareness:
		if err := s.applyPresence(msg, now); err != nil {
			return
		}

	case protocol.TypeComponentUpdate:
		var payload protocol.ComponentPayload
		if err := msg.Bind(&payload); err != nil {
			return
		}
		s.applyComponent(msg, payload, false)
	}

	s.fanout(msg, "", false)
}

// fanout writes msg to every local peer except skip and, for local traffic, publishes it to
// the other nodes. Peers whose queue is full are dropped afterwards.
func (s *Session) fanout(msg protocol.Message, skip string, publish bool) {
	frame, err := msg.Encode()
	if err != nil {
		s.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Error encoding message for broadcast.")
		return
	}

	var slow []*Peer
	for id, p := range s.peers {
		if id == skip {
			continue
		}
		if !p.enqueue(frame) {
			slow = append(slow, p)
		}
	}

	if publish {
		s.publishFrame(frame)
	}

	for _, p := range slow {
		if s.peers[p.user.ID] == p {
			s.logger.Warn().Str("user_id", p.user.ID).Msg("Dropping slow participant.")
			s.removePeer(p)
		}
	}
}

func (s *Session) publishFrame(frame []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if err := s.opts.Relay.Publish(ctx, s.ID, frame); err != nil {
		s.logger.Warn().Err(err).Msg("Relay publish failed.")
	}
}

// sweep expires silent presence records. Participants of other nodes that went silent are
// treated as gone and announced as left to local peers; local ones are governed by their
// connection.
func (s *Session) sweep() {
	now := s.now()
	for _, id := range s.presence.Prune(now, s.opts.PresenceTimeout) {
		delete(s.lastPresence, id)
		if _, local := s.peers[id]; local {
			continue
		}
		u, known := s.roster.Get(id)
		s.locks.ReleaseUser(id)
		if !known || !s.roster.OnUserLeave(id) {
			continue
		}
		if msg, err := protocol.NewMessage(protocol.TypeUserLeave, s.ID, id, protocol.UserPayload{User: u}); err == nil {
			s.fanout(msg, "", false)
		}
		s.logger.Info().Str("user_id", id).Msg("Remote participant expired.")
	}

	at := s.info.LastActivity
	s.persist("touch", func(ctx context.Context, st store.Store) error {
		return st.TouchSession(ctx, s.ID, at)
	})
}

func asCustom(err error) *errs.CustomError {
	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		return customErr
	}
	return errs.NewError(errs.ErrUnknown).Wrap(err)
}
