/*
Package handler provides HTTP handler functions for creating, inspecting, joining and closing
collaboration sessions.
*/
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"collabsync/internal/app/store"
	"collabsync/internal/app/user"
	"collabsync/internal/pkg/auth/jwt"
	"collabsync/internal/pkg/errs"
	"collabsync/internal/pkg/logx"
	"collabsync/internal/pkg/randx"
	"collabsync/internal/pkg/req"
	"collabsync/internal/pkg/resp"
)

type CreateSessionInput struct {
	ProjectID string `json:"projectId"`
	OwnerID   string `json:"ownerId"`
}

// HandleCreateSession creates an HTTP HandlerFunc that starts a new session with a random id.
func HandleCreateSession(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CreateSessionInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		sessionID, err := randx.SessionID()
		if err != nil {
			logx.Error(err, "Failed to generate session id")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		info := store.Session{ID: sessionID, ProjectID: input.ProjectID, OwnerID: input.OwnerID}
		if _, err := deps.Manager.Create(r.Context(), info); err != nil {
			resp.RespondError(w, r, customError(err))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"sessionId": sessionID,
		})
	}
}

// HandleGetSession reports the live snapshot of a running session, or its stored metadata
// once it has ended.
func HandleGetSession(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		if s := deps.Manager.Get(sessionID); s != nil {
			resp.RespondSuccess(w, r, s.Snapshot())
			return
		}

		info, err := deps.Manager.Store().GetSession(r.Context(), sessionID)
		if errors.Is(err, store.ErrNotFound) {
			resp.RespondError(w, r, errs.NewError(errs.ErrSessionNotFound))
			return
		}
		if err != nil {
			logx.Error(err, "Failed to load session metadata", "session_id", sessionID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"session":         info,
			"participants":    []user.User{},
			"maxParticipants": deps.Manager.MaxParticipants(),
		})
	}
}

type JoinSessionInput struct {
	UserID string    `json:"userId,omitempty"`
	Name   string    `json:"name"`
	Email  string    `json:"email,omitempty"`
	Avatar string    `json:"avatar,omitempty"`
	Role   user.Role `json:"role,omitempty"`
}

// HandleJoinSession issues a session access token for the given identity. A missing userId
// gets a guest id and a missing role gets the configured default role.
func HandleJoinSession(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		if !randx.IsValidIdentifier(sessionID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		var input JoinSessionInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.UserID == "" {
			guestID, err := randx.GuestID()
			if err != nil {
				resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
				return
			}
			input.UserID = guestID
		}
		if !randx.IsValidIdentifier(input.UserID) {
			logx.Warn("Invalid user id in join request", "user_id", input.UserID)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}
		if input.Name == "" {
			input.Name = input.UserID
		}

		role := input.Role
		if role == "" {
			role = deps.Config.DefaultRole
		}
		perms, err := user.PermissionsFor(role)
		if err != nil {
			logx.Warn("Unknown role in join request", "role", role)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if s := deps.Manager.Get(sessionID); s != nil {
			snap := s.Snapshot()
			if len(snap.Participants) >= snap.MaxParticipants && !hasParticipant(snap.Participants, input.UserID) {
				resp.RespondError(w, r, errs.NewError(errs.ErrSessionFull, snap.MaxParticipants))
				return
			}
		}

		identity := user.Identity{
			ID:          input.UserID,
			Name:        input.Name,
			Email:       input.Email,
			Avatar:      input.Avatar,
			Permissions: perms,
		}

		tokenString, err := jwt.IssueSessionToken(sessionID, identity, deps.Config.JWTSecret)
		if err != nil {
			logx.Error(err, "Failed to sign session token", "session_id", sessionID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"token":     tokenString,
			"sessionId": sessionID,
			"user":      identity,
			"expiresIn": int(jwt.SessionAccessExpiration.Seconds()),
		})
	}
}

// HandleCloseSession ends a running session. The router only lets through tokens for that
// session that grant canManageCollaboration.
func HandleCloseSession(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		if err := deps.Manager.Close(sessionID); err != nil {
			resp.RespondError(w, r, customError(err))
			return
		}

		logx.Info("Session closed via API", "session_id", sessionID, "user_id", jwt.GetPayloadFromContext(r).UserID)
		resp.RespondSuccess(w, r, map[string]any{
			"sessionId": sessionID,
		})
	}
}

func hasParticipant(users []user.User, id string) bool {
	for _, u := range users {
		if u.ID == id {
			return true
		}
	}
	return false
}

// customError unwraps err into its *errs.CustomError, reporting anything else as ErrUnknown.
func customError(err error) *errs.CustomError {
	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		return customErr
	}
	logx.Error(err, "Unexpected error in session handler")
	return errs.NewError(errs.ErrUnknown)
}
