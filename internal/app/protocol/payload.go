package protocol

import "collabsync/internal/app/user"

// UserPayload is the data of user_join and user_leave.
type UserPayload struct {
	User user.User `json:"user"`
}

// CursorPayload is the data of cursor_move, in editor-canvas coordinates.
type CursorPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SelectionPayload is the data of selection_change.
type SelectionPayload struct {
	SelectedIDs []string `json:"selectedIds"`
}

// AwarenessPayload is the data of awareness; absent fields are left untouched by receivers.
type AwarenessPayload struct {
	Tool     *string `json:"tool,omitempty"`
	IsTyping *bool   `json:"isTyping,omitempty"`
}

// ComponentAction distinguishes edits from lock traffic inside component_update.
type ComponentAction string

const (
	ActionUpdate ComponentAction = "update"
	ActionLock   ComponentAction = "lock"
	ActionUnlock ComponentAction = "unlock"
)

// ComponentPayload is the data of component_update. Data is an opaque property bag owned by the
// document model; this layer only reads ObjectID and Action.
type ComponentPayload struct {
	ObjectID string          `json:"objectId"`
	Action   ComponentAction `json:"action"`
	Data     map[string]any  `json:"data,omitempty"`
}

// ErrorPayload is the data of error frames; Code is an errs code.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
