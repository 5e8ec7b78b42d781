/*
Package errs provides custom error types and application-level error code constants.

This file maps every code to its client-facing message and HTTP status.
*/
package errs

import "net/http"

// errorMap stores the template CustomError for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Malformed JSON body.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Session and Roster Errors
	ErrSessionNotFound:      {Code: ErrSessionNotFound, Message: "Collaboration session not found.", Status: http.StatusNotFound},
	ErrSessionFull:          {Code: ErrSessionFull, Message: "This session is full (%d participants)."},
	ErrDuplicateParticipant: {Code: ErrDuplicateParticipant, Message: "User %s is already in this session."},
	ErrSessionClosed:        {Code: ErrSessionClosed, Message: "The session has ended."},
	ErrSessionExists:        {Code: ErrSessionExists, Message: "A session with this id is already running.", Status: http.StatusConflict},

	// 3xxx: Editing and Permission Errors
	ErrPermissionDenied: {Code: ErrPermissionDenied, Message: "You do not have permission to do that.", Status: http.StatusForbidden},
	ErrObjectLocked:     {Code: ErrObjectLocked, Message: "Object %s is being edited by someone else."},
	ErrUnauthorized:     {Code: ErrUnauthorized, Message: "A valid session token is required.", Status: http.StatusUnauthorized},
	ErrSessionReplaced:  {Code: ErrSessionReplaced, Message: "You joined this session from another window."},

	// 4xxx: Transport Errors
	ErrConnection:         {Code: ErrConnection, Message: "Could not reach the collaboration server."},
	ErrReconnectExhausted: {Code: ErrReconnectExhausted, Message: "Collaboration unavailable after %d reconnect attempts."},

	// 5xxx: Internal System Errors
	ErrUnknown:            {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrArchiveUnavailable: {Code: ErrArchiveUnavailable, Message: "No archived journal is available.", Status: http.StatusNotFound},
}
