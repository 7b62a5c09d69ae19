// Package auth issues and verifies the short-lived signed tokens the
// platform uses for identity. Connection tokens are scoped to the live
// socket and deliberately shorter-lived than HTTP access tokens; one can
// never stand in for the other.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose scopes a token to the surface it may authenticate.
type Purpose string

const (
	PurposeAccess Purpose = "access"
	PurposeConn   Purpose = "conn"
)

const (
	accessTTL = 15 * time.Minute
	connTTL   = 2 * time.Minute
)

var ErrInvalidToken = errors.New("invalid token")

// Tokens signs and verifies HS256 tokens with a single shared secret.
type Tokens struct {
	secret []byte
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

type claims struct {
	Purpose Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// SignAccess mints an HTTP access token for a user.
func (t *Tokens) SignAccess(userID uuid.UUID) (string, error) {
	return t.sign(userID, PurposeAccess, accessTTL)
}

// SignConn mints a connection token. Clients fetch one immediately before
// dialing, so the TTL only has to cover the connect handshake.
func (t *Tokens) SignConn(userID uuid.UUID) (string, error) {
	return t.sign(userID, PurposeConn, connTTL)
}

func (t *Tokens) sign(userID uuid.UUID, purpose Purpose, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(t.secret)
}

// Verify resolves a token to a user id. It fails on bad signatures,
// expiry, and purpose mismatch alike; callers only learn ErrInvalidToken.
func (t *Tokens) Verify(raw string, purpose Purpose) (uuid.UUID, error) {
	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	if c.Purpose != purpose {
		return uuid.Nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return userID, nil
}
