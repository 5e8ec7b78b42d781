/*
Package lock implements advisory per-object edit locks and conflict resolution between
concurrent edit events.

Locks are a courtesy signal, not mutual exclusion: two clients can still race before a lock
event propagates, and ResolveConflict is the backstop for that case. A Coordinator is not safe
for concurrent use.
*/
package lock

import (
	"maps"
	"slices"

	"collabsync/internal/app/protocol"
	"collabsync/internal/app/user"
)

// Event is a lock or unlock broadcast for one object.
type Event struct {
	ObjectID string
	UserID   string
	Action   protocol.ComponentAction
}

// Coordinator owns the lock table: object id -> holder user id.
type Coordinator struct {
	locks map[string]string
	emit  func(Event)
}

// NewCoordinator returns an empty coordinator. emit receives every lock and unlock the local
// side initiates, for broadcast; it may be nil.
func NewCoordinator(emit func(Event)) *Coordinator {
	return &Coordinator{
		locks: make(map[string]string),
		emit:  emit,
	}
}

func (c *Coordinator) publish(ev Event) {
	if c.emit != nil {
		c.emit(ev)
	}
}

// CanEditComponent reports false if u lacks canEdit or another user holds the object.
func (c *Coordinator) CanEditComponent(u user.User, objectID string) bool {
	if !u.Permissions.CanEdit {
		return false
	}
	holder, locked := c.locks[objectID]
	return !locked || holder == u.ID
}

// LockComponent records u as the holder of objectID and emits a lock event. It returns false
// without side effects when CanEditComponent is false. Locking an object u already holds
// succeeds without a second event.
func (c *Coordinator) LockComponent(u user.User, objectID string) bool {
	if !c.CanEditComponent(u, objectID) {
		return false
	}
	if c.locks[objectID] == u.ID {
		return true
	}

	c.locks[objectID] = u.ID
	c.publish(Event{ObjectID: objectID, UserID: u.ID, Action: protocol.ActionLock})
	return true
}

// UnlockComponent removes the lock on objectID unconditionally and emits an unlock event.
func (c *Coordinator) UnlockComponent(objectID string) {
	holder := c.locks[objectID]
	delete(c.locks, objectID)
	c.publish(Event{ObjectID: objectID, UserID: holder, Action: protocol.ActionUnlock})
}

// ApplyRemote records a lock change announced by another participant without re-emitting it.
// A remote lock on an object held by someone else overwrites the entry: the last announcement
// observed wins, and ResolveConflict arbitrates any edits that raced.
func (c *Coordinator) ApplyRemote(ev Event) {
	switch ev.Action {
	case protocol.ActionLock:
		c.locks[ev.ObjectID] = ev.UserID
	case protocol.ActionUnlock:
		delete(c.locks, ev.ObjectID)
	}
}

// ReleaseUser silently drops every lock held by userID and returns the released object ids.
func (c *Coordinator) ReleaseUser(userID string) []string {
	var released []string
	for objectID, holder := range c.locks {
		if holder == userID {
			delete(c.locks, objectID)
			released = append(released, objectID)
		}
	}
	slices.Sort(released)
	return released
}

// HeldBy returns the objects locked by userID, sorted.
func (c *Coordinator) HeldBy(userID string) []string {
	var held []string
	for objectID, holder := range c.locks {
		if holder == userID {
			held = append(held, objectID)
		}
	}
	slices.Sort(held)
	return held
}

// Owner returns the holder of objectID.
func (c *Coordinator) Owner(objectID string) (string, bool) {
	holder, ok := c.locks[objectID]
	return holder, ok
}

// Locks returns a copy of the lock table.
func (c *Coordinator) Locks() map[string]string {
	return maps.Clone(c.locks)
}

// Reset drops every lock silently.
func (c *Coordinator) Reset() {
	clear(c.locks)
}
