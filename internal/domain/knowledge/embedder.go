package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/academia-ai/tutor/internal/infra/eventbus"
	"github.com/academia-ai/tutor/internal/infra/llm"
	"github.com/academia-ai/tutor/internal/infra/sqlite"
)

const (
	embedMaxRetries = 3
	embedBaseDelay  = 100 * time.Millisecond
	embedBatchSize  = 64
)

// EmbedderService attaches vectors to freshly ingested chunks. It is best-effort:
// retrieval falls back to lexical ranking for chunks without embeddings.
type EmbedderService struct {
	db       *sql.DB
	embedder llm.Embedder
	model    string
	logger   *slog.Logger
	delay    time.Duration
}

// NewEmbedderService creates an EmbedderService that embeds with model (empty = provider default).
func NewEmbedderService(db *sql.DB, embedder llm.Embedder, model string, logger *slog.Logger) *EmbedderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbedderService{db: db, embedder: embedder, model: model, logger: logger, delay: embedBaseDelay}
}

// Start consumes TopicKnowledgeIngested until ctx is done or the bus is closed.
// Runs in the calling goroutine; launch with: go svc.Start(ctx, bus)
func (s *EmbedderService) Start(ctx context.Context, bus eventbus.EventBus) {
	ch := bus.Subscribe(TopicKnowledgeIngested)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, ok := evt.Payload.(IngestedEventPayload)
			if !ok {
				continue
			}
			if err := s.EmbedDocument(ctx, payload.DocumentID); err != nil {
				s.logger.Warn("embedding failed", "document_id", payload.DocumentID, "error", err)
			}
		}
	}
}

type pendingChunk struct {
	id   string
	text string
}

// EmbedDocument embeds every chunk of the document that has no vector yet.
func (s *EmbedderService) EmbedDocument(ctx context.Context, documentID string) error {
	pending, err := s.pendingChunks(ctx, documentID)
	if err != nil {
		return fmt.Errorf("embedder: fetch chunks: %w", err)
	}
	for start := 0; start < len(pending); start += embedBatchSize {
		batch := pending[start:min(start+embedBatchSize, len(pending))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.text
		}
		vecs, err := s.embedWithRetry(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedder: embed: %w", err)
		}
		if err := s.storeVectors(ctx, documentID, batch, vecs); err != nil {
			return fmt.Errorf("embedder: store vectors: %w", err)
		}
	}
	if len(pending) > 0 {
		s.logger.Debug("document embedded", "document_id", documentID, "chunks", len(pending))
	}
	return nil
}

func (s *EmbedderService) pendingChunks(ctx context.Context, documentID string) ([]pendingChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.text FROM chunk c
		LEFT JOIN chunk_embedding e ON e.chunk_id = c.id
		WHERE c.document_id = ? AND e.chunk_id IS NULL
		ORDER BY c.position`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []pendingChunk
	for rows.Next() {
		var c pendingChunk
		if err := rows.Scan(&c.id, &c.text); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// embedWithRetry calls Embed with exponential backoff (100ms, 200ms, ...).
func (s *EmbedderService) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	delay := s.delay
	for attempt := 0; attempt < embedMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
		resp, err := s.embedder.Embed(ctx, llm.EmbedRequest{Model: s.model, Texts: texts})
		if err == nil {
			if len(resp.Embeddings) != len(texts) {
				return nil, fmt.Errorf("got %d vectors for %d texts", len(resp.Embeddings), len(texts))
			}
			return resp.Embeddings, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all %d attempts failed: %w", embedMaxRetries, lastErr)
}

// storeVectors writes a batch of vectors. A document deleted while its vectors
// were being computed is skipped.
func (s *EmbedderService) storeVectors(ctx context.Context, documentID string, chunks []pendingChunk, vecs [][]float32) error {
	unlock := lockDocument(documentID)
	defer unlock()

	now := time.Now().UTC().Format(storedTimeLayout)
	return sqlite.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM document WHERE id = ?`, documentID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			s.logger.Debug("document deleted before embedding", "document_id", documentID)
			return nil
		}
		for i, c := range chunks {
			enc, err := encodeEmbedding(vecs[i])
			if err != nil {
				return fmt.Errorf("encode embedding[%d]: %w", i, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO chunk_embedding (chunk_id, model, dims, vector, created_at)
				VALUES (?, ?, ?, ?, ?)`, c.id, s.model, len(vecs[i]), enc, now); err != nil {
				return fmt.Errorf("insert embedding[%d]: %w", i, err)
			}
		}
		return nil
	})
}

// encodeEmbedding serialises a vector to JSON TEXT: [0.1,0.2] → "[0.1,0.2]".
func encodeEmbedding(vec []float32) (string, error) {
	b, err := json.Marshal(vec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeEmbedding is the inverse of encodeEmbedding.
func decodeEmbedding(s string) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(s), &vec); err != nil {
		return nil, fmt.Errorf("decodeEmbedding: %w", err)
	}
	return vec, nil
}
