package jwt

import (
	"github.com/golang-jwt/jwt"

	"collabsync/internal/app/user"
)

// Payload defines the claims of a session access token.
// The identity provider signs one per participant and session; the sync server only verifies it.
type Payload struct {
	// StandardClaims embeds Exp, Iat and Iss, which drive the validity checks.
	jwt.StandardClaims `json:"standard_claims"`

	// SessionID is the collaboration session the holder may join.
	SessionID string `json:"session_id"`

	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`

	// Permissions are copied onto the participant as issued; the server never widens them.
	Permissions user.Permissions `json:"permissions"`
}

// Identity returns the participant identity carried by the token.
func (p *Payload) Identity() user.Identity {
	return user.Identity{
		ID:          p.UserID,
		Name:        p.Name,
		Email:       p.Email,
		Avatar:      p.Avatar,
		Permissions: p.Permissions,
	}
}
