package session

import (
	"time"

	"collabsync/internal/app/lock"
	"collabsync/internal/app/presence"
	"collabsync/internal/app/protocol"
	"collabsync/internal/app/transport"
	"collabsync/internal/pkg/errs"
)

// remote reports whether msg was sent by someone else. Echoes of our own messages are ignored.
func (s *Session) remote(msg protocol.Message) bool {
	return msg.UserID != "" && msg.UserID != s.cfg.Identity.ID
}

func (s *Session) handleUserJoin(msg protocol.Message) {
	if !s.remote(msg) {
		return
	}

	var p protocol.UserPayload
	if err := msg.Bind(&p); err != nil {
		s.logger.Debug().Err(err).Msg("Ignoring user_join without user")
		return
	}
	if p.User.ID == "" {
		p.User.ID = msg.UserID
	}

	s.mu.Lock()
	now := s.now()
	p.User.LastSeen = now
	_, err := s.roster.OnUserJoin(p.User)
	if err == nil {
		s.presence.UpdateAwareness(p.User.ID, presence.Partial{}, now)
		s.info.LastActivity = now
	}
	users := s.roster.List()
	snapshot := s.presence.Snapshot()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Str("joiner", p.User.ID).Msg("Remote join rejected by roster")
		s.notify(func(o Observer) { o.Error(err) })
		return
	}
	s.notify(rosterNotice(users), presenceNotice(snapshot))
}

func (s *Session) handleUserLeave(msg protocol.Message) {
	if !s.remote(msg) {
		return
	}

	s.mu.Lock()
	removed := s.roster.OnUserLeave(msg.UserID)
	released := s.locks.ReleaseUser(msg.UserID)
	users := s.roster.List()
	snapshot := s.presence.Snapshot()
	locks := s.locks.Locks()
	s.mu.Unlock()

	var notices []notice
	if removed {
		notices = append(notices, rosterNotice(users), presenceNotice(snapshot))
	}
	if len(released) > 0 {
		notices = append(notices, locksNotice(locks))
	}
	s.notify(notices...)
}

func (s *Session) handleCursorMove(msg protocol.Message) {
	var p protocol.CursorPayload
	if !s.remote(msg) || msg.Bind(&p) != nil {
		return
	}
	s.applyPresence(msg.UserID, presence.Partial{Cursor: &presence.Point{X: p.X, Y: p.Y}})
}

func (s *Session) handleSelectionChange(msg protocol.Message) {
	var p protocol.SelectionPayload
	if !s.remote(msg) || msg.Bind(&p) != nil {
		return
	}
	if p.SelectedIDs == nil {
		p.SelectedIDs = []string{}
	}
	s.applyPresence(msg.UserID, presence.Partial{Selection: p.SelectedIDs})
}

func (s *Session) handleAwareness(msg protocol.Message) {
	if !s.remote(msg) {
		return
	}
	var p protocol.AwarenessPayload
	if len(msg.Data) > 0 && msg.Bind(&p) != nil {
		return
	}
	s.applyPresence(msg.UserID, presence.Partial{Tool: p.Tool, IsTyping: p.IsTyping})
}

// applyPresence merges a remote partial and refreshes the roster entry of userID.
func (s *Session) applyPresence(userID string, p presence.Partial) {
	s.mu.Lock()
	now := s.now()
	s.presence.UpdateAwareness(userID, p, now)
	prev, known := s.roster.Get(userID)
	s.roster.Touch(userID, now)
	s.info.LastActivity = now
	snapshot := s.presence.Snapshot()
	users := s.roster.List()
	s.mu.Unlock()

	notices := []notice{presenceNotice(snapshot)}
	if known && !prev.IsOnline {
		notices = append(notices, rosterNotice(users))
	}
	s.notify(notices...)
}

func (s *Session) handleComponentUpdate(msg protocol.Message) {
	if !s.remote(msg) {
		return
	}

	var p protocol.ComponentPayload
	if err := msg.Bind(&p); err != nil || p.ObjectID == "" {
		s.logger.Debug().Err(err).Msg("Ignoring component_update without object id")
		return
	}

	switch p.Action {
	case protocol.ActionLock, protocol.ActionUnlock:
		s.mu.Lock()
		s.locks.ApplyRemote(lock.Event{ObjectID: p.ObjectID, UserID: msg.UserID, Action: p.Action})
		s.presence.Touch(msg.UserID, s.now())
		locks := s.locks.Locks()
		s.mu.Unlock()

		s.notify(locksNotice(locks))

	default:
		update := ComponentUpdate{
			ObjectID:  p.ObjectID,
			UserID:    msg.UserID,
			MessageID: msg.ID,
			Timestamp: msg.Timestamp,
			Data:      p.Data,
		}

		s.mu.Lock()
		now := s.now()
		s.presence.Touch(msg.UserID, now)
		s.info.LastActivity = now
		if local, ok := s.recent[p.ObjectID]; ok && s.raced(local.Time, msg.Timestamp) {
			res := lock.ResolveConflict(local, lock.ComponentEvent{
				ObjectID: p.ObjectID,
				UserID:   msg.UserID,
				MsgID:    msg.ID,
				Time:     msg.Timestamp,
				Data:     p.Data,
			}, s.cfg.ConflictStrategy)
			update.Conflict = &res
			if res.Winner != lock.SideLocal {
				delete(s.recent, p.ObjectID)
			}
		}
		s.mu.Unlock()

		if update.Conflict != nil {
			s.logger.Info().
				Str("object_id", p.ObjectID).
				Str("remote_user", msg.UserID).
				Str("strategy", string(update.Conflict.Strategy)).
				Str("winner", string(update.Conflict.Winner)).
				Msg("Concurrent edit detected")
		}
		s.notify(func(o Observer) { o.ComponentUpdated(update) })
	}
}

// raced reports whether two edit timestamps (Unix ms) fall inside the conflict window.
func (s *Session) raced(localMs, remoteMs int64) bool {
	d := time.Duration(localMs-remoteMs) * time.Millisecond
	if d < 0 {
		d = -d
	}
	return d <= s.cfg.ConflictWindow
}

func (s *Session) handleError(msg protocol.Message) {
	var p protocol.ErrorPayload
	if err := msg.Bind(&p); err != nil {
		return
	}
	err := &errs.CustomError{Code: p.Code, Message: p.Message}
	s.logger.Warn().Int("code", p.Code).Str("message", p.Message).Msg("Server rejected an action")
	s.notify(func(o Observer) { o.Error(err) })
}

// handlePing treats a peer's heartbeat as a sign of life. Pings of unknown users carry the
// user and re-add them.
func (s *Session) handlePing(msg protocol.Message) {
	if !s.remote(msg) {
		return
	}

	s.mu.Lock()
	prev, known := s.roster.Get(msg.UserID)
	if !known {
		s.mu.Unlock()
		var p protocol.UserPayload
		if msg.Bind(&p) == nil && p.User.ID == msg.UserID {
			s.handleUserJoin(msg)
		}
		return
	}
	now := s.now()
	_, hadRecord := s.presence.Get(msg.UserID)
	s.presence.UpdateAwareness(msg.UserID, presence.Partial{}, now)
	s.roster.Touch(msg.UserID, now)
	snapshot := s.presence.Snapshot()
	users := s.roster.List()
	s.mu.Unlock()

	var notices []notice
	if !hadRecord {
		notices = append(notices, presenceNotice(snapshot))
	}
	if !prev.IsOnline {
		notices = append(notices, rosterNotice(users))
	}
	s.notify(notices...)
}

// handleStateChange runs before any frame of a new connection is dispatched. On a reconnect the
// remote state is dropped and rebuilt from the server's replay; the local user re-announces
// itself and reclaims its locks.
func (s *Session) handleStateChange(state transport.State) {
	s.mu.Lock()
	s.status = state
	rejoined := state == StatusConnected && s.info.Active
	if rejoined {
		s.resetRemoteLocked()
		s.sendLocked(protocol.TypeUserJoin, protocol.UserPayload{User: s.self})
		if rec, ok := s.presence.Get(s.self.ID); ok && rec.Cursor != nil {
			s.sendLocked(protocol.TypeCursorMove, protocol.CursorPayload{X: rec.Cursor.X, Y: rec.Cursor.Y})
		}
		for _, objectID := range s.locks.HeldBy(s.self.ID) {
			s.sendLocked(protocol.TypeComponentUpdate, protocol.ComponentPayload{ObjectID: objectID, Action: protocol.ActionLock})
		}
	}
	users := s.roster.List()
	snapshot := s.presence.Snapshot()
	locks := s.locks.Locks()
	s.mu.Unlock()

	s.logger.Info().Str("status", string(state)).Msg("Collaboration status changed")
	notices := []notice{func(o Observer) { o.StatusChanged(state) }}
	if rejoined {
		notices = append(notices, rosterNotice(users), presenceNotice(snapshot), locksNotice(locks))
	}
	s.notify(notices...)
}

// resetRemoteLocked forgets every other participant with their presence and locks.
func (s *Session) resetRemoteLocked() {
	for _, u := range s.roster.List() {
		if u.ID != s.self.ID {
			s.roster.OnUserLeave(u.ID)
		}
	}
	for _, id := range s.presence.IDs() {
		if id != s.self.ID {
			s.presence.Remove(id)
		}
	}
	for objectID, holder := range s.locks.Locks() {
		if holder != s.self.ID {
			s.locks.ApplyRemote(lock.Event{ObjectID: objectID, UserID: holder, Action: protocol.ActionUnlock})
		}
	}
}

func (s *Session) handleTransportError(err error) {
	s.notify(func(o Observer) { o.Error(err) })
}

func (s *Session) startSweepLocked() {
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})
	go s.sweepLoop(s.sweepStop, s.sweepDone)
}

func (s *Session) sweepLoop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep expires silent presence records. Remote users whose record expired lose their locks
// and are marked offline. While the local user holds locks, an awareness keepalive is sent so
// peers do not expire them in turn.
func (s *Session) Sweep() {
	s.mu.Lock()
	now := s.now()

	expired := s.presence.Prune(now, s.cfg.PresenceTimeout)
	rosterChanged, locksChanged := false, false
	for _, id := range expired {
		if id == s.self.ID {
			continue
		}
		if len(s.locks.ReleaseUser(id)) > 0 {
			locksChanged = true
		}
		if u, ok := s.roster.Get(id); ok && u.IsOnline {
			s.roster.SetOnline(id, false)
			rosterChanged = true
		}
	}

	for objectID, ev := range s.recent {
		if now.Sub(time.UnixMilli(ev.Time)) > s.cfg.ConflictWindow {
			delete(s.recent, objectID)
		}
	}

	if s.info.Active && len(s.locks.HeldBy(s.self.ID)) > 0 {
		s.presence.UpdateAwareness(s.self.ID, presence.Partial{}, now)
		s.sendLocked(protocol.TypeAwareness, protocol.AwarenessPayload{})
	}

	snapshot := s.presence.Snapshot()
	users := s.roster.List()
	locks := s.locks.Locks()
	s.mu.Unlock()

	if len(expired) > 0 {
		s.logger.Debug().Strs("expired", expired).Msg("Presence sweep expired users")
	}

	notices := []notice{}
	if len(expired) > 0 {
		notices = append(notices, presenceNotice(snapshot))
	}
	if rosterChanged {
		notices = append(notices, rosterNotice(users))
	}
	if locksChanged {
		notices = append(notices, locksNotice(locks))
	}
	s.notify(notices...)
}
