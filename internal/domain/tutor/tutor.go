// Package tutor is the learner-facing façade: grounded answers, generated
// tests and assignments, and per-session provider selection. Operations report
// failures in their result values so transports can show them verbatim.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/academia-ai/tutor/internal/domain/knowledge"
	"github.com/academia-ai/tutor/internal/infra/llm"
)

// Status is the outcome of a façade operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Retriever returns the chunks most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, in knowledge.RetrieveInput) ([]knowledge.KnowledgeChunk, error)
}

// Ingester stores uploaded documents in the knowledge store.
type Ingester interface {
	IngestFile(ctx context.Context, in knowledge.IngestFileInput) knowledge.IngestResult
	IngestBytes(ctx context.Context, in knowledge.IngestBytesInput) knowledge.IngestResult
	IngestBatch(ctx context.Context, inputs []knowledge.IngestBytesInput) []knowledge.IngestResult
}

// ProviderRouter resolves a catalog entry to a ready adapter.
type ProviderRouter interface {
	Route(ctx context.Context, providerID, model string) (llm.LLMProvider, error)
	Catalog() *llm.Catalog
}

// Config tunes prompt assembly. Zero values take the defaults.
type Config struct {
	RetrievalK    int // chunks per answer, default knowledge.DefaultK
	HistoryWindow int // past messages per prompt, default 10
	HistoryBudget int // tokens spent on past messages, default DefaultHistoryBudget
	Tokens        TokenCounter
	Logger        *slog.Logger
}

type Tutor struct {
	sessions  *SessionManager
	router    ProviderRouter
	retriever Retriever
	ingester  Ingester
	cfg       Config
	logger    *slog.Logger
}

func New(sessions *SessionManager, router ProviderRouter, retriever Retriever, ingester Ingester, cfg Config) *Tutor {
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = knowledge.DefaultK
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	if cfg.HistoryBudget <= 0 {
		cfg.HistoryBudget = DefaultHistoryBudget
	}
	if cfg.Tokens == nil {
		cfg.Tokens = WhitespaceCounter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tutor{
		sessions:  sessions,
		router:    router,
		retriever: retriever,
		ingester:  ingester,
		cfg:       cfg,
		logger:    logger,
	}
}

// Session returns the live session for id; an empty id starts a new one.
func (t *Tutor) Session(ctx context.Context, id string) (*Session, error) {
	return t.sessions.Get(ctx, id)
}

// Catalog returns the provider catalog the tutor selects from.
func (t *Tutor) Catalog() *llm.Catalog { return t.router.Catalog() }

// SetModel points the session at (providerID, model). On failure the session
// keeps its previous target; history and knowledge are never touched.
func (t *Tutor) SetModel(ctx context.Context, sess *Session, providerID, model string) error {
	if err := t.router.Catalog().Validate(providerID, model); err != nil {
		return err
	}
	if err := t.sessions.SetTarget(ctx, sess, providerID, model); err != nil {
		return fmt.Errorf("set model: %w", err)
	}
	t.logger.Info("tutor: model selected", "session_id", sess.ID, "provider", providerID, "model", model)
	return nil
}

// ResetHistory clears the session's conversation.
func (t *Tutor) ResetHistory(ctx context.Context, sess *Session) error {
	if err := t.sessions.Reset(ctx, sess); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	return nil
}

// IngestFile adds a file on disk to the session's knowledge.
func (t *Tutor) IngestFile(ctx context.Context, sess *Session, path, fileName string) knowledge.IngestResult {
	return t.ingester.IngestFile(ctx, knowledge.IngestFileInput{SessionID: sess.ID, Path: path, FileName: fileName})
}

// IngestBytes adds an uploaded document to the session's knowledge.
func (t *Tutor) IngestBytes(ctx context.Context, sess *Session, fileName string, data []byte) knowledge.IngestResult {
	return t.ingester.IngestBytes(ctx, knowledge.IngestBytesInput{SessionID: sess.ID, FileName: fileName, Data: data})
}

// IngestBatch adds several uploads to the session's knowledge in parallel.
// Results follow the order of files.
func (t *Tutor) IngestBatch(ctx context.Context, sess *Session, files []knowledge.IngestBytesInput) []knowledge.IngestResult {
	inputs := make([]knowledge.IngestBytesInput, len(files))
	for i, f := range files {
		f.SessionID = sess.ID
		inputs[i] = f
	}
	return t.ingester.IngestBatch(ctx, inputs)
}

// ProviderHealth checks that the catalog's default model is configured and reachable.
func (t *Tutor) ProviderHealth(ctx context.Context) error {
	c := t.router.Catalog()
	p, err := t.router.Route(ctx, c.DefaultProvider, c.DefaultModel)
	if err != nil {
		return err
	}
	return p.HealthCheck(ctx)
}

// provider resolves the session's current target.
func (t *Tutor) provider(ctx context.Context, sess *Session) (llm.LLMProvider, string, error) {
	providerID, model := sess.Target()
	p, err := t.router.Route(ctx, providerID, model)
	if err != nil {
		return nil, "", err
	}
	return p, model, nil
}

// retrieve never fails the caller: a broken index degrades to no context.
func (t *Tutor) retrieve(ctx context.Context, sess *Session, query string) []knowledge.KnowledgeChunk {
	if t.retriever == nil {
		return nil
	}
	chunks, err := t.retriever.Retrieve(ctx, knowledge.RetrieveInput{SessionID: sess.ID, Query: query, K: t.cfg.RetrievalK})
	if err != nil {
		t.logger.Warn("tutor: retrieval failed", "session_id", sess.ID, "error", err)
		return nil
	}
	return chunks
}

// describeFailure turns an adapter error into the message shown to the learner.
func describeFailure(sess *Session, err error) string {
	providerID, model := sess.Target()
	switch {
	case errors.Is(err, llm.ErrAuthentication):
		return fmt.Sprintf("El proveedor %q no tiene una clave de API válida configurada. "+
			"Añade la clave en la configuración o cambia de proveedor, por ejemplo a Ollama, que funciona en local sin clave.", providerID)
	case errors.Is(err, llm.ErrInvalidModel):
		return fmt.Sprintf("El modelo %q no está disponible para el proveedor %q. Selecciona otro modelo.", model, providerID)
	case errors.Is(err, llm.ErrConfiguration):
		return fmt.Sprintf("El proveedor %q no está configurado. Selecciona otro proveedor.", providerID)
	case errors.Is(err, llm.ErrRateLimit):
		return fmt.Sprintf("El proveedor %q ha limitado las peticiones. Inténtalo de nuevo en unos segundos.", providerID)
	case errors.Is(err, llm.ErrTransport):
		return fmt.Sprintf("No se pudo contactar con el proveedor %q. Comprueba la conexión e inténtalo de nuevo.", providerID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "La petición se canceló antes de completarse."
	default:
		return "Error al generar la respuesta: " + err.Error()
	}
}

func requireText(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", &ValidationError{Violations: []string{field + " no puede estar vacío"}}
	}
	return v, nil
}
