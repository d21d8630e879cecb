// Shared helpers for the tutor handlers: JSON encoding, error responses and
// the mapping from the domain error taxonomy to HTTP status codes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/academia-ai/tutor/internal/api/ctxkeys"
	"github.com/academia-ai/tutor/internal/domain/knowledge"
	"github.com/academia-ai/tutor/internal/domain/tutor"
	"github.com/academia-ai/tutor/internal/infra/llm"
)

const (
	headerContentType = "Content-Type"
	mimeJSON          = "application/json"

	errInvalidBody        = "invalid request body"
	errMissingSessionCtx  = "missing session context"
	errSessionUnavailable = "session unavailable"
)

// maxJSONBody bounds request bodies that are not file uploads.
const maxJSONBody = 1 << 20

// SessionSource returns the live tutor session for an id.
type SessionSource interface {
	Session(ctx context.Context, id string) (*tutor.Session, error)
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set(headerContentType, mimeJSON)
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set(headerContentType, mimeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		http.Error(w, `{"error":"failed to encode error response"}`, http.StatusInternalServerError)
	}
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodeRequest decodes a JSON body into dst and checks its validate tags.
// It writes the 400 response itself and returns false on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return false
	}
	if err := tutor.ValidateRequest(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// statusFor maps a façade or store error onto an HTTP status.
// Model-output failures are checked before ErrValidation because they wrap it.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, tutor.ErrNoValidQuestions), errors.Is(err, tutor.ErrEmptyCompletion):
		return http.StatusBadGateway
	case errors.Is(err, tutor.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrConfiguration), errors.Is(err, llm.ErrInvalidModel):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrAuthentication):
		return http.StatusFailedDependency
	case errors.Is(err, llm.ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, llm.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, knowledge.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, knowledge.ErrDocumentTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, knowledge.ErrEmptyDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, knowledge.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// callerSession resolves the session bound to the request's token.
// It writes the error response itself and returns nil on failure.
func callerSession(w http.ResponseWriter, r *http.Request, src SessionSource) *tutor.Session {
	id, err := ctxkeys.SessionIDFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, errMissingSessionCtx)
		return nil
	}
	sess, err := src.Session(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errSessionUnavailable)
		return nil
	}
	return sess
}
