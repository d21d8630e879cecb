package tutor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/academia-ai/tutor/internal/infra/llm"
	"github.com/academia-ai/tutor/pkg/uuid"
)

// ErrSessionNotFound is returned by a Store that has no row for the ID.
var ErrSessionNotFound = errors.New("session not found")

// Session is one learner's conversation: the active provider/model and the
// append-only history. Fields are guarded by mu; callers read them through
// Target and History.
type Session struct {
	ID string

	mu       sync.Mutex
	provider string
	model    string
	history  []llm.Message
}

// Target returns the provider and model answers are sent to.
func (s *Session) Target() (provider, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider, s.model
}

// History returns a copy of the conversation so far, oldest first.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// SessionState is the persisted form of a Session.
type SessionState struct {
	ID       string
	Provider string
	Model    string
	History  []llm.Message
}

// Store persists sessions. Implementations must apply each call atomically.
type Store interface {
	LoadSession(ctx context.Context, id string) (SessionState, error)
	CreateSession(ctx context.Context, st SessionState) error
	UpdateTarget(ctx context.Context, id, provider, model string) error
	AppendMessages(ctx context.Context, id string, msgs []llm.Message) error
	ClearHistory(ctx context.Context, id string) error
}

// SessionManager hands out live sessions. Lookups go cache, then store, then
// a fresh session on the default provider/model. Every mutation is written to
// the store before the in-memory session changes. A nil store keeps sessions
// in memory only.
type SessionManager struct {
	store Store

	mu              sync.Mutex
	sessions        map[string]*Session
	defaultProvider string
	defaultModel    string
}

func NewSessionManager(store Store, defaultProvider, defaultModel string) *SessionManager {
	return &SessionManager{
		store:           store,
		sessions:        make(map[string]*Session),
		defaultProvider: defaultProvider,
		defaultModel:    defaultModel,
	}
}

// Get returns the live session for id. An empty id creates a new session.
func (m *SessionManager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if s, ok := m.sessions[id]; ok {
			return s, nil
		}
	} else {
		id = uuid.New()
	}

	if m.store != nil {
		st, err := m.store.LoadSession(ctx, id)
		switch {
		case err == nil:
			s := &Session{ID: st.ID, provider: st.Provider, model: st.Model, history: st.History}
			m.sessions[id] = s
			return s, nil
		case !errors.Is(err, ErrSessionNotFound):
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
		if err := m.store.CreateSession(ctx, SessionState{ID: id, Provider: m.defaultProvider, Model: m.defaultModel}); err != nil {
			return nil, fmt.Errorf("create session %s: %w", id, err)
		}
	}

	s := &Session{ID: id, provider: m.defaultProvider, model: m.defaultModel}
	m.sessions[id] = s
	return s, nil
}

// Append adds msgs to the session history as one unit.
func (m *SessionManager) Append(ctx context.Context, s *Session, msgs ...llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.store != nil {
		if err := m.store.AppendMessages(ctx, s.ID, msgs); err != nil {
			return err
		}
	}
	s.history = append(s.history, msgs...)
	return nil
}

// SetTarget switches the session's provider and model. History is kept.
func (m *SessionManager) SetTarget(ctx context.Context, s *Session, provider, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.store != nil {
		if err := m.store.UpdateTarget(ctx, s.ID, provider, model); err != nil {
			return err
		}
	}
	s.provider, s.model = provider, model
	return nil
}

// Reset clears the session history.
func (m *SessionManager) Reset(ctx context.Context, s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.store != nil {
		if err := m.store.ClearHistory(ctx, s.ID); err != nil {
			return err
		}
	}
	s.history = nil
	return nil
}
