// Package auth - session.go signs and verifies the session tokens that carry
// the logged-in platform user id.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession is returned for tokens that fail signature, expiry or
// claim checks.
var ErrInvalidSession = errors.New("invalid session")

const sessionIssuer = "orbit"

// SessionClaims identifies the session user.
type SessionClaims struct {
	UserID int64 `json:"userid"`
	jwt.RegisteredClaims
}

// SessionSigner issues and validates HS256 session tokens.
type SessionSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// isDevMode reports whether the process runs in a development environment.
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	return devMode == "true" || devMode == "1" ||
		os.Getenv("GIN_MODE") == "debug"
}

// NewSessionSigner builds a signer. An empty secret falls back to the
// ORBIT_SESSION_SECRET environment variable; in dev mode a random secret is
// generated instead of failing.
func NewSessionSigner(secret string, ttl time.Duration) (*SessionSigner, error) {
	if secret == "" {
		secret = os.Getenv("ORBIT_SESSION_SECRET")
	}
	if secret == "" {
		if !isDevMode() {
			return nil, errors.New("session secret is required: set auth.session_secret or ORBIT_SESSION_SECRET " +
				"(generate one with: openssl rand -hex 32)")
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		slog.Warn("session secret not set, using a generated secret; sessions will not survive restarts")
	} else if len(secret) < 32 {
		slog.Warn("session secret is shorter than the recommended 32 characters")
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &SessionSigner{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue creates a session token for the user.
func (s *SessionSigner) Issue(userID int64) (string, error) {
	now := s.now()
	claims := &SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    sessionIssuer,
			Subject:   strconv.FormatInt(userID, 10),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, nil
}

// Parse validates a session token and returns its claims.
func (s *SessionSigner) Parse(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	},
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !token.Valid || claims.UserID <= 0 {
		return nil, ErrInvalidSession
	}
	return claims, nil
}
