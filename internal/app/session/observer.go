package session

import (
	"collabsync/internal/app/lock"
	"collabsync/internal/app/presence"
	"collabsync/internal/app/user"
)

// ComponentUpdate is an inbound edit forwarded to the document model. Data is passed through
// untouched.
type ComponentUpdate struct {
	ObjectID  string
	UserID    string
	MessageID string
	Timestamp int64
	Data      map[string]any

	// Conflict is set when the edit raced a local edit of the same object.
	Conflict *lock.Resolution
}

// Observer receives state changes of a Session. Callbacks run after the session state has been
// updated, outside its lock, on the goroutine that caused the change.
type Observer interface {
	StatusChanged(Status)
	RosterChanged([]user.User)
	PresenceChanged(map[string]presence.Record)
	LocksChanged(map[string]string)
	ComponentUpdated(ComponentUpdate)
	Error(error)
}

// ObserverFuncs adapts optional functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnStatus    func(Status)
	OnRoster    func([]user.User)
	OnPresence  func(map[string]presence.Record)
	OnLocks     func(map[string]string)
	OnComponent func(ComponentUpdate)
	OnError     func(error)
}

func (f ObserverFuncs) StatusChanged(s Status) {
	if f.OnStatus != nil {
		f.OnStatus(s)
	}
}

func (f ObserverFuncs) RosterChanged(users []user.User) {
	if f.OnRoster != nil {
		f.OnRoster(users)
	}
}

func (f ObserverFuncs) PresenceChanged(records map[string]presence.Record) {
	if f.OnPresence != nil {
		f.OnPresence(records)
	}
}

func (f ObserverFuncs) LocksChanged(locks map[string]string) {
	if f.OnLocks != nil {
		f.OnLocks(locks)
	}
}

func (f ObserverFuncs) ComponentUpdated(u ComponentUpdate) {
	if f.OnComponent != nil {
		f.OnComponent(u)
	}
}

func (f ObserverFuncs) Error(err error) {
	if f.OnError != nil {
		f.OnError(err)
	}
}

// notice is one pending observer callback.
type notice func(Observer)

func rosterNotice(users []user.User) notice {
	return func(o Observer) { o.RosterChanged(users) }
}

func presenceNotice(records map[string]presence.Record) notice {
	return func(o Observer) { o.PresenceChanged(records) }
}

func locksNotice(locks map[string]string) notice {
	return func(o Observer) { o.LocksChanged(locks) }
}
