package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"

	"collabsync/internal/app/user"
)

const (
	// SessionAccessExpiration bounds how long a token may be used to open a connection. Open
	// connections outlive it.
	SessionAccessExpiration = 15 * time.Minute

	// TokenIssuer identifies the issuer of the token.
	TokenIssuer = "collabsync"
)

var (
	// ErrInvalidToken covers malformed, expired and badly signed tokens.
	ErrInvalidToken = errors.New("jwt: invalid or expired token")

	// ErrIncompleteToken is returned for validly signed tokens lacking a session or user.
	ErrIncompleteToken = errors.New("jwt: token carries no session or user")
)

// parser only accepts HS256, so a token cannot pick its own verification method.
var parser = &jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}

// IssueSessionToken signs a token admitting identity to sessionID.
func IssueSessionToken(sessionID string, identity user.Identity, secretKey string) (string, error) {
	return GenerateToken(&Payload{
		SessionID:   sessionID,
		UserID:      identity.ID,
		Name:        identity.Name,
		Email:       identity.Email,
		Avatar:      identity.Avatar,
		Permissions: identity.Permissions,
	}, secretKey, SessionAccessExpiration)
}

// GenerateToken fills the standard claims of payload for duration and signs it with HS256.
func GenerateToken(payload *Payload, secretKey string, duration time.Duration) (string, error) {
	now := time.Now()

	payload.StandardClaims = jwt.StandardClaims{
		ExpiresAt: now.Add(duration).Unix(),
		IssuedAt:  now.Unix(),
		Issuer:    TokenIssuer,
		Subject:   payload.UserID,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString([]byte(secretKey))
}

// ParseToken verifies tokenString against secretKey and returns its claims.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}

	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secretKey), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Issuer != TokenIssuer {
		return nil, fmt.Errorf("%w: issuer %q", ErrInvalidToken, claims.Issuer)
	}

	if claims.UserID == "" || claims.SessionID == "" {
		return nil, ErrIncompleteToken
	}

	return claims, nil
}

// DecodeUnverified reads the claims of tokenString without checking its signature. Clients use
// it to learn their own identity; servers must use ParseToken.
func DecodeUnverified(tokenString string) (*Payload, error) {
	claims := &Payload{}
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
