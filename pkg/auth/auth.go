// Package auth provides bcrypt password hashing and the HS256 session tokens
// that bind an HTTP client to its tutor session.
// This is a leaf package with no domain dependencies. Used by internal/domain/auth and internal/api/middleware.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ===== CONSTANTS =====

// BCryptCost is the work factor for bcrypt.
const BCryptCost = 12

// DefaultTokenExpiry applies when a Signer is built with a zero expiry.
const DefaultTokenExpiry = 24 * time.Hour

// ErrNoSecret is returned by NewSigner when the signing secret is empty.
var ErrNoSecret = errors.New("jwt secret is not configured")

// ===== BCRYPT FUNCTIONS =====

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BCryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash.
// Malformed hashes yield false rather than an error.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ===== JWT FUNCTIONS =====

// Claims carries the identity of a tutor client.
type Claims struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 tokens with one secret.
type Signer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewSigner returns a Signer for secret. A zero expiry means DefaultTokenExpiry.
func NewSigner(secret string, expiry time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}
	return &Signer{secret: []byte(secret), expiry: expiry, now: time.Now}, nil
}

// Issue signs a token for userID bound to sessionID.
func (s *Signer) Issue(userID, sessionID, role string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.expiry)

	claims := &Claims{
		UserID:    userID,
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates tokenString and returns its claims.
// Expired, malformed, or foreign-signed tokens are rejected.
func (s *Signer) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// HS256 only; rejects algorithm substitution.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid JWT claims or signature")
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("token carries no session")
	}
	return claims, nil
}
