package hub

import (
	"slices"

	"collabsync/internal/app/protocol"
)

// DefaultJournalLimit bounds the number of edits kept per session for archiving.
const DefaultJournalLimit = 10000

// Journal is the ordered log of accepted component updates of one session. When full it drops
// its oldest entries. It is owned by the session run loop.
type Journal struct {
	entries []protocol.Message
	limit   int
	dropped int
}

// NewJournal returns an empty journal holding at most limit entries (<= 0 means default).
func NewJournal(limit int) *Journal {
	if limit <= 0 {
		limit = DefaultJournalLimit
	}
	return &Journal{limit: limit}
}

func (j *Journal) Append(msg protocol.Message) {
	if len(j.entries) == j.limit {
		j.entries[0] = protocol.Message{}
		j.entries = j.entries[1:]
		j.dropped++
	}
	j.entries = append(j.entries, msg)
}

// Entries returns a copy of the kept entries, oldest first.
func (j *Journal) Entries() []protocol.Message {
	return slices.Clone(j.entries)
}

func (j *Journal) Len() int { return len(j.entries) }

// Dropped returns how many entries were evicted.
func (j *Journal) Dropped() int { return j.dropped }
