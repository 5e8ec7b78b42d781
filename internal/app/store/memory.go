package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process Store used when no database is configured.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string]Session
	conflicts []Conflict
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]Session)}
}

func (m *Memory) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrExists
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) UpsertSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.sessions[s.ID]; ok {
		if s.ProjectID == "" {
			s.ProjectID = prev.ProjectID
		}
		if s.OwnerID == "" {
			s.OwnerID = prev.OwnerID
		}
		s.StartedAt = prev.StartedAt
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) TouchSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if at.After(s.LastActivity) {
		s.LastActivity = at
		m.sessions[id] = s
	}
	return nil
}

func (m *Memory) CloseSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Active = false
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}
	m.sessions[id] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) RecordConflict(_ context.Context, c Conflict) error {
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now()
	}
	m.mu.Lock()
	m.conflicts = append(m.conflicts, c)
	m.mu.Unlock()
	return nil
}

// Conflicts returns the recorded conflicts of sessionID in insertion order.
func (m *Memory) Conflicts(sessionID string) []Conflict {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.DeleteFunc(slices.Clone(m.conflicts), func(c Conflict) bool {
		return c.SessionID != sessionID
	})
}

func (m *Memory) Close() {}
