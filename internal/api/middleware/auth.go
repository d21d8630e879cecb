// Package middleware holds the HTTP middleware mounted in front of the tutor API.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/academia-ai/tutor/internal/api/ctxkeys"
	pkgauth "github.com/academia-ai/tutor/pkg/auth"
)

// Auth validates the Bearer token with signer and injects the caller's
// session, user and role into the request context.
//
// Flow:
//  1. Read "Authorization: Bearer <token>" header
//  2. Reject if missing or not Bearer scheme → 401
//  3. Parse + validate the token → 401 on invalid/expired
//  4. Inject ctxkeys.SessionID, ctxkeys.UserID and ctxkeys.Role
//  5. Call next handler
func Auth(signer *pkgauth.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractBearerToken(r)
			if tokenString == "" {
				writeUnauthorized(w, "missing or invalid Authorization header")
				return
			}

			claims, err := signer.Parse(tokenString)
			if err != nil {
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := r.Context()
			ctx = ctxkeys.WithValue(ctx, ctxkeys.SessionID, claims.SessionID)
			ctx = ctxkeys.WithValue(ctx, ctxkeys.UserID, claims.UserID)
			ctx = ctxkeys.WithValue(ctx, ctxkeys.Role, claims.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearerToken returns the token from "Authorization: Bearer <token>",
// or "" if the header is missing, uses another scheme, or carries no token.
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	// case-sensitive per RFC 7235
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// writeUnauthorized writes a 401 JSON response in the handlers' error format.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}
