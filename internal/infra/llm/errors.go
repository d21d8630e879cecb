package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error taxonomy for provider calls. Adapters wrap one of these with %w so
// callers branch with errors.Is and never on provider identity.
var (
	// ErrConfiguration reports an unknown provider or a broken catalog.
	ErrConfiguration = errors.New("llm: configuration error")
	// ErrInvalidModel reports a model that is not in the selected provider's catalog.
	ErrInvalidModel = errors.New("llm: invalid model")
	// ErrAuthentication reports a missing or rejected credential.
	ErrAuthentication = errors.New("llm: authentication failed")
	// ErrTransport reports network failures, timeouts and 5xx responses.
	ErrTransport = errors.New("llm: transport error")
	// ErrRateLimit reports provider backpressure (HTTP 429).
	ErrRateLimit = errors.New("llm: rate limited")
)

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	kind       error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap exposes the taxonomy sentinel (may be nil for plain 4xx errors).
func (e *StatusError) Unwrap() error { return e.kind }

// newStatusError classifies an HTTP status into the error taxonomy.
func newStatusError(provider string, status int, body string) *StatusError {
	return &StatusError{
		Provider:   provider,
		StatusCode: status,
		Body:       body,
		kind:       classifyStatus(status, body),
	}
}

func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrAuthentication
	case status == http.StatusTooManyRequests:
		return ErrRateLimit
	case status == http.StatusNotFound:
		return ErrInvalidModel
	case status == http.StatusRequestTimeout, status >= http.StatusInternalServerError:
		return ErrTransport
	case status == http.StatusBadRequest && strings.Contains(body, "API_KEY_INVALID"):
		// Gemini answers 400 instead of 401 for a bad key.
		return ErrAuthentication
	}
	return nil
}

// transportError wraps a network-level failure from http.Client.Do or a body read.
func transportError(provider, op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", provider, op, err)
	}
	return fmt.Errorf("%s %s: %w: %w", provider, op, ErrTransport, err)
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrRateLimit)
}
