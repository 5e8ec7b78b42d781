/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for resolving the participant
identity from a session token or query parameters, upgrading the HTTP connection to WebSocket, and
handing the connection to the hub.
*/
package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"collabsync/internal/app/protocol"
	"collabsync/internal/app/user"
	"collabsync/internal/pkg/auth/jwt"
	"collabsync/internal/pkg/errs"
	"collabsync/internal/pkg/logx"
	"collabsync/internal/pkg/randx"
	"collabsync/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(upgrader websocket.Upgrader, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, identity, customErr := resolveIdentity(r, deps)
		if customErr != nil {
			logx.Warn("WebSocket request rejected", "code", customErr.Code, "session_id", sessionID)
			resp.RespondError(w, r, customErr)
			return
		}

		logx.Info("Attempting to upgrade connection", "session_id", sessionID, "user_id", identity.ID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		u := user.FromIdentity(identity, time.Now())
		if _, err := deps.Manager.Attach(r.Context(), sessionID, conn, u); err != nil {
			customErr := customError(err)
			logx.Warn("WebSocket attach failed", "session_id", sessionID, "user_id", identity.ID, "code", customErr.Code)

			msg := websocket.FormatCloseMessage(protocol.CloseRejected, customErr.Message)
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}

		logx.Info("WebSocket connection established", "session_id", sessionID, "user_id", identity.ID)
	}
}

// resolveIdentity determines who is connecting to which session. A token (query parameter
// "token" or a Bearer header) is authoritative; without one the query names the user and the
// configured default role applies, unless tokens are required.
func resolveIdentity(r *http.Request, deps *AppDeps) (string, user.Identity, *errs.CustomError) {
	query := r.URL.Query()
	sessionID := query.Get("sessionId")
	userID := query.Get("userId")

	if token := jwt.TokenFromRequest(r); token != "" {
		payload, err := jwt.ParseToken(token, deps.Config.JWTSecret)
		if err != nil {
			logx.Warn("Invalid session token on WebSocket request", "error", err)
			return sessionID, user.Identity{}, errs.NewError(errs.ErrUnauthorized)
		}
		if sessionID == "" {
			sessionID = payload.SessionID
		}
		if sessionID != payload.SessionID || (userID != "" && userID != payload.UserID) {
			return sessionID, user.Identity{}, errs.NewError(errs.ErrUnauthorized)
		}
		return sessionID, payload.Identity(), nil
	}

	if deps.Config.RequireToken {
		return sessionID, user.Identity{}, errs.NewError(errs.ErrUnauthorized)
	}

	if !randx.IsValidIdentifier(sessionID) {
		return sessionID, user.Identity{}, errs.NewError(errs.ErrInvalidParams)
	}

	if userID == "" {
		guestID, err := randx.GuestID()
		if err != nil {
			return sessionID, user.Identity{}, errs.NewError(errs.ErrUnknown)
		}
		userID = guestID
	}
	if !randx.IsValidIdentifier(userID) {
		return sessionID, user.Identity{}, errs.NewError(errs.ErrInvalidParams)
	}

	name := query.Get("name")
	if name == "" {
		name = userID
	}

	perms, err := user.PermissionsFor(deps.Config.DefaultRole)
	if err != nil {
		return sessionID, user.Identity{}, errs.NewError(errs.ErrUnknown)
	}

	return sessionID, user.Identity{ID: userID, Name: name, Permissions: perms}, nil
}
