// Package presence holds ephemeral per-user awareness state: cursor, selection, current tool
// and typing flag. Entries that stay silent past the inactivity window are pruned by periodic
// sweeps; nothing here is persisted.
//
// A Tracker is not safe for concurrent use. Its owner serializes access.
package presence

import (
	"maps"
	"slices"
	"time"
)

const (
	// DefaultTimeout is the inactivity window after which a record expires.
	DefaultTimeout = 30 * time.Second

	// DefaultSweepInterval is how often owners are expected to call Prune.
	DefaultSweepInterval = 10 * time.Second
)

// Point is a position in editor-canvas coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Record is the awareness state of one user.
type Record struct {
	UserID       string    `json:"userId"`
	Cursor       *Point    `json:"cursor,omitempty"`
	Selection    []string  `json:"selection,omitempty"`
	Tool         *string   `json:"tool,omitempty"`
	IsTyping     bool      `json:"isTyping"`
	LastActivity time.Time `json:"lastActivity"`
}

func (r Record) clone() Record {
	if r.Cursor != nil {
		c := *r.Cursor
		r.Cursor = &c
	}
	if r.Tool != nil {
		t := *r.Tool
		r.Tool = &t
	}
	r.Selection = slices.Clone(r.Selection)
	return r
}

// Partial is a sparse update. Nil fields are left untouched; a non-nil empty Selection clears
// the selection.
type Partial struct {
	Cursor    *Point
	Selection []string
	Tool      *string
	IsTyping  *bool
}

// Tracker maps user ids to their awareness records.
type Tracker struct {
	records map[string]Record
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]Record)}
}

// UpdateAwareness merges p into the record of userID, creating it if needed, and stamps the
// last activity with now. Values are not validated.
func (t *Tracker) UpdateAwareness(userID string, p Partial, now time.Time) Record {
	rec, ok := t.records[userID]
	if !ok {
		rec = Record{UserID: userID}
	}

	if p.Cursor != nil {
		c := *p.Cursor
		rec.Cursor = &c
	}
	if p.Selection != nil {
		rec.Selection = slices.Clone(p.Selection)
	}
	if p.Tool != nil {
		tool := *p.Tool
		rec.Tool = &tool
	}
	if p.IsTyping != nil {
		rec.IsTyping = *p.IsTyping
	}
	rec.LastActivity = now

	t.records[userID] = rec
	return rec.clone()
}

// Touch refreshes the last activity of an existing record without changing its fields.
func (t *Tracker) Touch(userID string, now time.Time) {
	if rec, ok := t.records[userID]; ok {
		rec.LastActivity = now
		t.records[userID] = rec
	}
}

// Cleanup returns a new map holding only the records whose last activity is less than timeout
// before now. The tracker itself is not modified.
func (t *Tracker) Cleanup(now time.Time, timeout time.Duration) map[string]Record {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	live := make(map[string]Record, len(t.records))
	for id, rec := range t.records {
		if now.Sub(rec.LastActivity) < timeout {
			live[id] = rec.clone()
		}
	}
	return live
}

// Prune replaces the tracker contents with Cleanup(now, timeout) and returns the expired ids
// in sorted order.
func (t *Tracker) Prune(now time.Time, timeout time.Duration) []string {
	live := t.Cleanup(now, timeout)

	var expired []string
	for id := range t.records {
		if _, ok := live[id]; !ok {
			expired = append(expired, id)
		}
	}
	slices.Sort(expired)

	t.records = live
	return expired
}

// Remove drops the record of userID.
func (t *Tracker) Remove(userID string) {
	delete(t.records, userID)
}

// Reset drops every record.
func (t *Tracker) Reset() {
	clear(t.records)
}

// Get returns a copy of the record of userID.
func (t *Tracker) Get(userID string) (Record, bool) {
	rec, ok := t.records[userID]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Len returns the number of tracked users.
func (t *Tracker) Len() int {
	return len(t.records)
}

// Snapshot returns a deep copy of every record.
func (t *Tracker) Snapshot() map[string]Record {
	out := make(map[string]Record, len(t.records))
	for id, rec := range t.records {
		out[id] = rec.clone()
	}
	return out
}

// Cursors returns the known cursor positions keyed by user id.
func (t *Tracker) Cursors() map[string]Point {
	out := make(map[string]Point)
	for id, rec := range t.records {
		if rec.Cursor != nil {
			out[id] = *rec.Cursor
		}
	}
	return out
}

// Selections returns the non-empty selections keyed by user id.
func (t *Tracker) Selections() map[string][]string {
	out := make(map[string][]string)
	for id, rec := range t.records {
		if len(rec.Selection) > 0 {
			out[id] = slices.Clone(rec.Selection)
		}
	}
	return out
}

// IDs returns the tracked user ids in sorted order.
func (t *Tracker) IDs() []string {
	return slices.Sorted(maps.Keys(t.records))
}
