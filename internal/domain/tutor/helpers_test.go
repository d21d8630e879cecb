package tutor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/academia-ai/tutor/internal/domain/knowledge"
	"github.com/academia-ai/tutor/internal/infra/llm"
	"github.com/academia-ai/tutor/internal/infra/sqlite"
)

// stubLLM is a scripted provider. Replies are consumed in order and the last
// one repeats; reply, when set, takes precedence.
type stubLLM struct {
	id string

	mu        sync.Mutex
	replies   []string
	reply     func(req llm.ChatRequest) string
	err       error
	stream    []string
	streamErr error
	requests  []llm.ChatRequest
}

func (s *stubLLM) ChatCompletion(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if s.reply != nil {
		return &llm.ChatResponse{Content: s.reply(req), StopReason: "stop"}, nil
	}
	i := len(s.requests) - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	if i < 0 {
		return &llm.ChatResponse{Content: "respuesta de " + s.id, StopReason: "stop"}, nil
	}
	return &llm.ChatResponse{Content: s.replies[i], StopReason: "stop"}, nil
}

func (s *stubLLM) ChatCompletionStream(_ context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	err, parts, tail := s.err, s.stream, s.streamErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk, len(parts)+1)
	for _, p := range parts {
		ch <- llm.StreamChunk{Delta: p}
	}
	if tail != nil {
		ch <- llm.StreamChunk{Err: tail}
	}
	close(ch)
	return ch, nil
}

func (s *stubLLM) ModelInfo() llm.ModelMeta { return llm.ModelMeta{ID: "stub", Provider: s.id} }

func (s *stubLLM) HealthCheck(context.Context) error { return nil }

func (s *stubLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *stubLLM) request(i int) llm.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func (s *stubLLM) lastRequest() llm.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

type fixture struct {
	tutor    *Tutor
	db       *sql.DB
	ingest   *knowledge.IngestService
	sessions *SessionManager
	stubs    map[string]*stubLLM // keyed by provider id
}

// allKeys configures every hosted provider of the default catalog.
func allKeys() llm.StaticCredentials {
	return llm.StaticCredentials{
		"GOOGLE_API_KEY":  "g-key",
		"OPENAI_API_KEY":  "o-key",
		"MISTRAL_API_KEY": "m-key",
	}
}

// newFixture wires a Tutor over in-memory SQLite and one stub per catalog provider.
func newFixture(t *testing.T, creds llm.StaticCredentials) *fixture {
	t.Helper()
	db, err := sqlite.NewDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := quietLogger()
	catalog := llm.DefaultCatalog()
	router := llm.NewRouter(catalog, creds, llm.RouterOptions{
		Retry:  llm.RetryPolicy{MaxAttempts: 1},
		Logger: logger,
	})
	stubs := make(map[string]*stubLLM)
	for _, p := range catalog.Providers {
		s := &stubLLM{id: p.ID}
		stubs[p.ID] = s
		router.Register(p.ID, s)
	}

	ingest := knowledge.NewIngestService(db, nil, logger)
	search := knowledge.NewSearchService(db, nil, "", logger)
	sessions := NewSessionManager(NewSQLStore(db), catalog.DefaultProvider, catalog.DefaultModel)
	tu := New(sessions, router, search, ingest, Config{Logger: logger})

	return &fixture{tutor: tu, db: db, ingest: ingest, sessions: sessions, stubs: stubs}
}

// active returns the stub behind the catalog default provider.
func (f *fixture) active() *stubLLM {
	return f.stubs[llm.DefaultCatalog().DefaultProvider]
}

func (f *fixture) session(t *testing.T) *Session {
	t.Helper()
	s, err := f.sessions.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// questionsJSON renders n well-formed questions; indexes listed in bad get an
// out-of-range correct_index.
func questionsJSON(n int, bad ...int) string {
	broken := make(map[int]bool, len(bad))
	for _, b := range bad {
		broken[b] = true
	}
	type q struct {
		Question     string   `json:"question"`
		Options      []string `json:"options"`
		CorrectIndex int      `json:"correct_index"`
		Explanation  string   `json:"explanation"`
	}
	qs := make([]q, n)
	for i := range qs {
		qs[i] = q{
			Question:     fmt.Sprintf("¿Cuánto es %d + %d?", i, i),
			Options:      []string{fmt.Sprint(2 * i), fmt.Sprint(2*i + 1), fmt.Sprint(2*i + 2), fmt.Sprint(2*i + 3)},
			CorrectIndex: i % 4,
			Explanation:  "Suma directa.",
		}
		if broken[i] {
			qs[i].CorrectIndex = 7
		}
	}
	b, _ := json.Marshal(map[string]any{"questions": qs})
	return string(b)
}

func lastUserContent(req llm.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

// askedQuestion recovers the learner question from a rendered answer prompt.
func askedQuestion(req llm.ChatRequest) string {
	const marker = "Pregunta del estudiante: "
	c := lastUserContent(req)
	if i := strings.LastIndex(c, marker); i >= 0 {
		return c[i+len(marker):]
	}
	return c
}
