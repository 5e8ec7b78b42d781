/*
Package errs provides custom error types and application-level error code constants.

The codes identify collaboration failures both inside the server and on the wire, where
they travel in `error` frames so that clients can tell a full session from a broken link.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request or query parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON could not be decoded.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained data after the JSON value.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the configured limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Session and Roster Errors
const (
	// ErrSessionNotFound indicates that no live session exists for the given id.
	ErrSessionNotFound = 2101

	// ErrSessionFull indicates that the session already holds its maximum participant count.
	ErrSessionFull = 2102

	// ErrDuplicateParticipant indicates that the user id is already present in the session roster.
	ErrDuplicateParticipant = 2103

	// ErrSessionClosed indicates that the session was torn down while the request was in flight.
	ErrSessionClosed = 2104

	// ErrSessionExists indicates that a session with the requested id is already running.
	ErrSessionExists = 2105
)

// 3xxx: Editing and Permission Errors
const (
	// ErrPermissionDenied indicates that the participant lacks the permission for the action.
	ErrPermissionDenied = 3001

	// ErrObjectLocked indicates that another participant holds the advisory lock on the object.
	ErrObjectLocked = 3002

	// ErrUnauthorized indicates a missing or invalid session access token.
	ErrUnauthorized = 3003

	// ErrSessionReplaced indicates that a newer connection for the same user took over.
	ErrSessionReplaced = 3004
)

// 4xxx: Transport Errors
const (
	// ErrConnection indicates that the WebSocket handshake or transport failed.
	ErrConnection = 4001

	// ErrReconnectExhausted indicates that every reconnect attempt of an outage failed.
	ErrReconnectExhausted = 4002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrArchiveUnavailable indicates that journal archiving is disabled or has nothing stored.
	ErrArchiveUnavailable = 5001
)
