package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSession reports that no token is configured.
	ErrNoSession = errors.New("no session token")
	// ErrExpired reports that the configured token has expired.
	ErrExpired = errors.New("session token expired")
)

// StaticSource serves a fixed bearer token. When the token is a JWT its exp
// claim is honoured; the signature is the server's concern.
type StaticSource struct {
	token string
	now   func() time.Time
}

// NewStaticSource wraps a configured token.
func NewStaticSource(token string) *StaticSource {
	return &StaticSource{token: strings.TrimSpace(token), now: time.Now}
}

// Token returns the configured token while it is valid.
func (s *StaticSource) Token(context.Context) (string, error) {
	if s.token == "" {
		return "", ErrNoSession
	}
	if exp, ok := jwtExpiry(s.token); ok && !exp.After(s.now()) {
		return "", ErrExpired
	}
	return s.token, nil
}

func jwtExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
