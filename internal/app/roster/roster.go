/*
Package roster keeps the authoritative list of users joined to a session.

Each entry carries the deterministic display color of its id. The roster never holds more
than its configured maximum; a Roster is not safe for concurrent use.
*/
package roster

import (
	"maps"
	"slices"
	"time"

	"collabsync/internal/app/user"
	"collabsync/internal/pkg/errs"
)

// DefaultMaxParticipants is the capacity used when none is configured.
const DefaultMaxParticipants = 10

// Roster maps user ids to participants.
type Roster struct {
	max     int
	members map[string]user.User

	// OnLeave, when set, runs after a user is removed so owners can cascade cleanup
	// (presence records, locks).
	OnLeave func(userID string)
}

// New returns an empty roster holding at most maxParticipants users (<= 0 means default).
func New(maxParticipants int) *Roster {
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}
	return &Roster{
		max:     maxParticipants,
		members: make(map[string]user.User),
	}
}

// Add inserts a new participant. It fails with ErrDuplicateParticipant if the id is present
// and with ErrSessionFull when the roster is at capacity.
func (r *Roster) Add(u user.User) error {
	if _, ok := r.members[u.ID]; ok {
		return errs.NewError(errs.ErrDuplicateParticipant, u.ID)
	}
	if len(r.members) >= r.max {
		return errs.NewError(errs.ErrSessionFull, r.max)
	}

	r.members[u.ID] = normalize(u)
	return nil
}

// OnUserJoin inserts or replaces the entry of u.ID; replacement covers a reconnect with the same
// id and never counts against capacity. A new id beyond capacity fails with ErrSessionFull.
// It reports whether the id was new.
func (r *Roster) OnUserJoin(u user.User) (bool, error) {
	_, existed := r.members[u.ID]
	if !existed && len(r.members) >= r.max {
		return false, errs.NewError(errs.ErrSessionFull, r.max)
	}

	r.members[u.ID] = normalize(u)
	return !existed, nil
}

func normalize(u user.User) user.User {
	u.Color = user.ColorFor(u.ID)
	u.IsOnline = true
	if u.LastSeen.IsZero() {
		u.LastSeen = time.Now()
	}
	return u
}

// OnUserLeave removes userID and runs the OnLeave hook. It reports whether the id was present.
func (r *Roster) OnUserLeave(userID string) bool {
	if _, ok := r.members[userID]; !ok {
		return false
	}

	delete(r.members, userID)
	if r.OnLeave != nil {
		r.OnLeave(userID)
	}
	return true
}

// Touch marks userID online and refreshes its last-seen time.
func (r *Roster) Touch(userID string, ts time.Time) {
	if u, ok := r.members[userID]; ok {
		u.IsOnline = true
		if ts.After(u.LastSeen) {
			u.LastSeen = ts
		}
		r.members[userID] = u
	}
}

// SetOnline flips the online flag of userID without changing last-seen.
func (r *Roster) SetOnline(userID string, online bool) {
	if u, ok := r.members[userID]; ok {
		u.IsOnline = online
		r.members[userID] = u
	}
}

// Get returns the entry of userID.
func (r *Roster) Get(userID string) (user.User, bool) {
	u, ok := r.members[userID]
	return u, ok
}

// Has reports whether userID is present.
func (r *Roster) Has(userID string) bool {
	_, ok := r.members[userID]
	return ok
}

// List returns the participants sorted by id.
func (r *Roster) List() []user.User {
	out := make([]user.User, 0, len(r.members))
	for _, id := range slices.Sorted(maps.Keys(r.members)) {
		out = append(out, r.members[id])
	}
	return out
}

// Len returns the number of participants.
func (r *Roster) Len() int {
	return len(r.members)
}

// Max returns the capacity.
func (r *Roster) Max() int {
	return r.max
}

// Reset removes every participant without running OnLeave.
func (r *Roster) Reset() {
	clear(r.members)
}
