/*
Package randx generates identifiers: Base62 session ids and guest user ids from crypto/rand,
and UUID v4 message ids.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the number of characters in Base62Chars.
	Base62Len = int64(len(Base62Chars))

	// SessionIDLength is the length of generated session ids.
	SessionIDLength = 10

	// GuestIDPrefix marks user ids minted for participants without an upstream identity.
	GuestIDPrefix = "guest_"

	// GuestIDRawLength is the length of the Base62 part of a guest id.
	GuestIDRawLength = 8

	// MaxIdentifierLength bounds client-supplied session and user ids.
	MaxIdentifierLength = 64
)

func base62(length int) (string, error) {
	result := make([]byte, length)

	for i := range length {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// SessionID generates a random Base62 session id of SessionIDLength characters.
func SessionID() (string, error) {
	return base62(SessionIDLength)
}

// GuestID generates a guest user id such as "guest_4fZq81Ka".
func GuestID() (string, error) {
	raw, err := base62(GuestIDRawLength)
	if err != nil {
		return "", err
	}
	return GuestIDPrefix + raw, nil
}

// MessageID generates a UUID v4 string. Collisions are negligible, which keeps message ids
// unique per (sender, session) without coordination.
func MessageID() string {
	return uuid.New().String()
}

// IsValidIdentifier reports whether s can be used as a session or user id: 1 to
// MaxIdentifierLength characters of Base62, '-', '_' or '.'.
func IsValidIdentifier(s string) bool {
	if s == "" || len(s) > MaxIdentifierLength {
		return false
	}

	for _, char := range s {
		if !strings.ContainsRune(Base62Chars, char) && char != '-' && char != '_' && char != '.' {
			return false
		}
	}

	return true
}
