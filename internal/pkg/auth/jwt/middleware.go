package jwt

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"collabsync/internal/app/user"
	"collabsync/internal/pkg/errs"
	"collabsync/internal/pkg/logx"
	"collabsync/internal/pkg/resp"
)

type contextKey string

// ContextAuthPayloadKey is the request Context key of the parsed *Payload.
const ContextAuthPayloadKey contextKey = "auth_payload"

// TokenFromRequest returns the session token of r: the Bearer credential of the Authorization
// header, or else the "token" query parameter browsers use for WebSocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && scheme == "Bearer" {
		return token
	}
	return r.URL.Query().Get("token")
}

// IdentityExtractorMiddleware validates the request token, if any, and stores its Payload in the
// request Context. Missing or invalid tokens leave the request anonymous instead of failing it.
func IdentityExtractorMiddleware(secretKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := TokenFromRequest(r)
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}

			payload, err := ParseToken(tokenString, secretKey)
			if err != nil {
				logx.Warn("Invalid or expired session token, treating as anonymous", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ContextAuthPayloadKey, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSessionPermission admits only requests whose token was issued for the session named by
// the URL parameter param and whose permissions satisfy allowed. It runs after
// IdentityExtractorMiddleware.
func RequireSessionPermission(param string, allowed func(user.Permissions) bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload := GetPayloadFromContext(r)
			if payload == nil {
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}

			sessionID := chi.URLParam(r, param)
			if payload.SessionID != sessionID || !allowed(payload.Permissions) {
				logx.Warn("Session permission denied", "session_id", sessionID, "user_id", payload.UserID)
				resp.RespondError(w, r, errs.NewError(errs.ErrPermissionDenied))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetPayloadFromContext returns the Payload stored by IdentityExtractorMiddleware, or nil for
// anonymous requests.
func GetPayloadFromContext(r *http.Request) *Payload {
	payload, _ := r.Context().Value(ContextAuthPayloadKey).(*Payload)
	return payload
}
