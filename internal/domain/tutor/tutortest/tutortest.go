// Package tutortest wires a Tutor over in-memory SQLite and a scripted
// provider for transport tests.
package tutortest

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/academia-ai/tutor/internal/domain/knowledge"
	"github.com/academia-ai/tutor/internal/domain/tutor"
	"github.com/academia-ai/tutor/internal/infra/llm"
	"github.com/academia-ai/tutor/internal/infra/sqlite"
)

// Provider answers every completion with the scripted reply and streams the
// scripted fragments.
type Provider struct {
	mu     sync.Mutex
	reply  string
	parts  []string
	err    error
	health error
	calls  int
}

// Set changes the scripted reply and error.
func (p *Provider) Set(reply string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reply, p.err = reply, err
}

// SetStream changes the streamed fragments.
func (p *Provider) SetStream(parts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parts = parts
}

// SetHealth changes what HealthCheck reports.
func (p *Provider) SetHealth(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health = err
}

// Calls returns the number of completions requested so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provider) ChatCompletion(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &llm.ChatResponse{Content: p.reply, StopReason: "stop"}, nil
}

func (p *Provider) ChatCompletionStream(context.Context, llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan llm.StreamChunk, len(p.parts))
	for _, part := range p.parts {
		ch <- llm.StreamChunk{Delta: part}
	}
	close(ch)
	return ch, nil
}

func (p *Provider) ModelInfo() llm.ModelMeta { return llm.ModelMeta{ID: "tutortest", Provider: "tutortest"} }

func (p *Provider) HealthCheck(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

// Fixture is a ready Tutor and the pieces behind it.
type Fixture struct {
	Tutor    *tutor.Tutor
	DB       *sql.DB
	Ingest   *knowledge.IngestService
	Provider *Provider
	Logger   *slog.Logger
}

// New opens an in-memory database, registers one Provider for every catalog
// entry and configures credentials for every hosted provider.
func New(t testing.TB) *Fixture {
	t.Helper()
	db, err := sqlite.NewDB(":memory:")
	if err != nil {
		t.Fatalf("tutortest: open db: %v", err)
	}
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("tutortest: migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := llm.DefaultCatalog()
	router := llm.NewRouter(catalog, llm.StaticCredentials{
		"GOOGLE_API_KEY":  "g-key",
		"OPENAI_API_KEY":  "o-key",
		"MISTRAL_API_KEY": "m-key",
	}, llm.RouterOptions{Retry: llm.RetryPolicy{MaxAttempts: 1}, Logger: logger})

	p := &Provider{reply: "Respuesta de prueba.", parts: []string{"Hola ", "mundo"}}
	for _, pc := range catalog.Providers {
		router.Register(pc.ID, p)
	}

	ingest := knowledge.NewIngestService(db, nil, logger)
	search := knowledge.NewSearchService(db, nil, "", logger)
	sessions := tutor.NewSessionManager(tutor.NewSQLStore(db), catalog.DefaultProvider, catalog.DefaultModel)
	tu := tutor.New(sessions, router, search, ingest, tutor.Config{Logger: logger})

	return &Fixture{Tutor: tu, DB: db, Ingest: ingest, Provider: p, Logger: logger}
}
