// Package auth authenticates portal users against a YAML directory and issues
// the session tokens the HTTP transport accepts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pkgauth "github.com/academia-ai/tutor/pkg/auth"
)

// ErrInvalidCredentials is returned by Login when username or password is incorrect.
// Both cases share one error so callers cannot probe which usernames exist.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Roles known to the portal.
const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

// User is one directory entry. PasswordHash is a bcrypt hash.
type User struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
	// SessionID pins the user to a tutor session; empty derives one from the username.
	SessionID string `yaml:"session_id"`
}

// Directory is the in-memory user list, keyed by lowercase username.
type Directory struct {
	users map[string]User
}

// LoadDirectory reads a YAML user directory from path.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read user directory: %w", err)
	}
	return ParseDirectory(data)
}

// ParseDirectory decodes and validates a YAML user directory.
func ParseDirectory(data []byte) (*Directory, error) {
	var doc struct {
		Users []User `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse user directory: %w", err)
	}

	d := &Directory{users: make(map[string]User, len(doc.Users))}
	for i, u := range doc.Users {
		key := strings.ToLower(strings.TrimSpace(u.Username))
		switch {
		case key == "":
			return nil, fmt.Errorf("user %d: username is required", i)
		case u.PasswordHash == "":
			return nil, fmt.Errorf("user %q: password_hash is required", u.Username)
		case u.Role == "":
			u.Role = RoleStudent
		case u.Role != RoleAdmin && u.Role != RoleStudent:
			return nil, fmt.Errorf("user %q: unknown role %q", u.Username, u.Role)
		}
		if _, dup := d.users[key]; dup {
			return nil, fmt.Errorf("user %q: duplicate username", u.Username)
		}
		if u.SessionID == "" {
			u.SessionID = "user-" + key
		}
		u.Username = key
		d.users[key] = u
	}
	return d, nil
}

// Len returns the number of users.
func (d *Directory) Len() int { return len(d.users) }

func (d *Directory) lookup(username string) (User, bool) {
	u, ok := d.users[strings.ToLower(strings.TrimSpace(username))]
	return u, ok
}

// LoginInput holds the credentials for authentication.
type LoginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResult is returned after a successful Login.
//
//nolint:revive // domain term
type AuthResult struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expires_at"`
}

// AuthService defines the authentication business operations.
//
//nolint:revive // domain term
type AuthService interface {
	Login(ctx context.Context, input LoginInput) (*AuthResult, error)
}

type authService struct {
	dir    *Directory
	signer *pkgauth.Signer
	logger *slog.Logger
}

// NewAuthService creates an AuthService over dir that signs with signer.
func NewAuthService(dir *Directory, signer *pkgauth.Signer, logger *slog.Logger) AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &authService{dir: dir, signer: signer, logger: logger}
}

// Login verifies credentials and returns a token bound to the user's session.
func (s *authService) Login(_ context.Context, input LoginInput) (*AuthResult, error) {
	u, ok := s.dir.lookup(input.Username)
	if !ok {
		s.logger.Warn("auth: login failed", "reason", "unknown_user")
		return nil, ErrInvalidCredentials
	}
	if !pkgauth.VerifyPassword(u.PasswordHash, input.Password) {
		s.logger.Warn("auth: login failed", "user", u.Username, "reason", "invalid_password")
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.signer.Issue(u.Username, u.SessionID, u.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	s.logger.Info("auth: login", "user", u.Username, "role", u.Role, "session_id", u.SessionID)

	return &AuthResult{
		Token:     token,
		UserID:    u.Username,
		SessionID: u.SessionID,
		Role:      u.Role,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	}, nil
}
