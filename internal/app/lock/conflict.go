package lock

import (
	"fmt"
	"maps"
)

// Strategy selects how concurrent edits of one object are arbitrated.
type Strategy string

const (
	StrategyLastWriteWins Strategy = "last_write_wins"
	StrategyMerge         Strategy = "merge"
	StrategyManual        Strategy = "manual"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLastWriteWins, StrategyMerge, StrategyManual:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown conflict strategy %q", s)
	}
}

// ComponentEvent is an edit of one object as seen by the conflict resolver.
type ComponentEvent struct {
	ObjectID string         `json:"objectId"`
	UserID   string         `json:"userId"`
	MsgID    string         `json:"id,omitempty"`
	Time     int64          `json:"timestamp"`
	Data     map[string]any `json:"data,omitempty"`
}

// Side names which input event a resolution picked.
type Side string

const (
	SideNone   Side = ""
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Resolution is the outcome of ResolveConflict.
type Resolution struct {
	Strategy Strategy `json:"strategy"`

	// Winner is the chosen side for last_write_wins, SideNone otherwise.
	Winner Side `json:"winner,omitempty"`

	// Event is the winning event for last_write_wins.
	Event *ComponentEvent `json:"event,omitempty"`

	// Data is the resolved property bag: the winner's data or the merged bag. Nil for manual.
	Data map[string]any `json:"data,omitempty"`

	// NeedsManual asks the caller to prompt the user; the resolver never waits for that.
	NeedsManual bool `json:"needsManual,omitempty"`
}

// ResolveConflict arbitrates two edits of the same object. Unknown strategies fall back to
// last_write_wins.
func ResolveConflict(local, remote ComponentEvent, strategy Strategy) Resolution {
	switch strategy {
	case StrategyMerge:
		merged := make(map[string]any, len(local.Data)+len(remote.Data))
		maps.Copy(merged, local.Data)
		maps.Copy(merged, remote.Data)
		return Resolution{Strategy: StrategyMerge, Data: merged}

	case StrategyManual:
		return Resolution{Strategy: StrategyManual, NeedsManual: true}

	default:
		winner, side := remote, SideRemote
		if laterWins(local, remote) {
			winner, side = local, SideLocal
		}
		return Resolution{
			Strategy: StrategyLastWriteWins,
			Winner:   side,
			Event:    &winner,
			Data:     maps.Clone(winner.Data),
		}
	}
}

// laterWins reports whether a beats b: later timestamp first, then the greater user id, then b.
// Both participants of a conflict evaluate the same order, so they agree on the winner.
func laterWins(a, b ComponentEvent) bool {
	if a.Time != b.Time {
		return a.Time > b.Time
	}
	return a.UserID > b.UserID
}
