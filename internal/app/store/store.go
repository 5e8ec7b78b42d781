/*
Package store persists collaboration session metadata and detected edit conflicts.

Presence, roster and locks are never stored; only the session lifecycle (start, last activity,
close) and an audit trail of conflicting concurrent edits are.
*/
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by GetSession for unknown ids.
	ErrNotFound = errors.New("store: session not found")

	// ErrExists is returned by CreateSession when the id is taken.
	ErrExists = errors.New("store: session already exists")
)

// Session is the persisted metadata of one collaboration session.
type Session struct {
	ID           string    `json:"sessionId"`
	ProjectID    string    `json:"projectId"`
	OwnerID      string    `json:"ownerId"`
	StartedAt    time.Time `json:"startedAt"`
	LastActivity time.Time `json:"lastActivity"`
	Active       bool      `json:"active"`
}

// Conflict records two edits of one object that raced inside the conflict window.
type Conflict struct {
	SessionID       string
	ObjectID        string
	LocalUserID     string
	RemoteUserID    string
	LocalTimestamp  int64
	RemoteTimestamp int64
	Strategy        string
	Winner          string
	DetectedAt      time.Time
}

// Store is implemented by Postgres and Memory.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	UpsertSession(ctx context.Context, s Session) error
	TouchSession(ctx context.Context, id string, at time.Time) error
	CloseSession(ctx context.Context, id string, at time.Time) error
	GetSession(ctx context.Context, id string) (Session, error)
	RecordConflict(ctx context.Context, c Conflict) error
	Close()
}
