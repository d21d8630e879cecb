package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/academia-ai/tutor/internal/infra/llm"
)

const (
	rrfK             = 60 // Reciprocal Rank Fusion constant
	DefaultK         = 5
	maxK             = 50
	candidatesPerHit = 4 // each ranker contributes K*candidatesPerHit candidates
)

// RetrieveInput selects the top-K chunks of a session for a question.
type RetrieveInput struct {
	SessionID string
	Query     string
	K         int // 0 → DefaultK, capped at 50
}

// SearchService ranks stored chunks against a query: FTS5 BM25 always, cosine
// similarity over stored vectors when an embedder is configured, fused by RRF.
type SearchService struct {
	db       *sql.DB
	embedder llm.Embedder
	model    string
	logger   *slog.Logger
}

// NewSearchService creates a SearchService. embedder may be nil for lexical-only retrieval.
func NewSearchService(db *sql.DB, embedder llm.Embedder, model string, logger *slog.Logger) *SearchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchService{db: db, embedder: embedder, model: model, logger: logger}
}

// candidate is a chunk plus the recency key used for deterministic tie-breaks.
type candidate struct {
	chunk      KnowledgeChunk
	docCreated string
	docID      string
}

// Retrieve returns at most K chunks ordered by relevance. Ties are broken by
// document recency (newest first), then chunk position. An empty store yields
// an empty slice, never an error. Vector failures degrade to lexical only.
func (s *SearchService) Retrieve(ctx context.Context, in RetrieveInput) ([]KnowledgeChunk, error) {
	k := resolveK(in.K)
	pool := k * candidatesPerHit

	var (
		lexical []candidate
		vector  []candidate
		lexErr  error
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		lexical, lexErr = s.bm25Search(ctx, in.SessionID, in.Query, pool)
	}()
	if s.embedder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vector = s.vectorSearchWithFallback(ctx, in.SessionID, in.Query, pool)
		}()
	}
	wg.Wait()

	if lexErr != nil {
		return nil, fmt.Errorf("retrieve: bm25: %w", lexErr)
	}
	return rrfMerge(lexical, vector, k), nil
}

// ftsQuery turns free text into an FTS5 expression of quoted, OR-ed terms so
// user punctuation never reaches the FTS5 parser.
func ftsQuery(q string) string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

func (s *SearchService) bm25Search(ctx context.Context, sessionID, query string, limit int) ([]candidate, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	const q = `
		SELECT c.id, c.document_id, c.session_id, d.file_name, c.position, c.text, c.token_count,
		       c.created_at, d.created_at, bm25(chunk_fts) AS score
		FROM chunk_fts
		JOIN chunk c ON c.rowid = chunk_fts.rowid
		JOIN document d ON d.id = c.document_id
		WHERE chunk_fts MATCH ? AND c.session_id = ?
		ORDER BY score, d.created_at DESC, d.id DESC, c.position
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, match, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []candidate
	for rows.Next() {
		var (
			c       candidate
			created string
			score   float64
		)
		if err := rows.Scan(&c.chunk.ID, &c.chunk.DocumentID, &c.chunk.SessionID, &c.chunk.FileName,
			&c.chunk.Position, &c.chunk.Text, &c.chunk.TokenCount, &created, &c.docCreated, &score); err != nil {
			return nil, fmt.Errorf("bm25 scan: %w", err)
		}
		c.chunk.CreatedAt = parseStoredTime(created)
		c.docID = c.chunk.DocumentID
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SearchService) vectorSearchWithFallback(ctx context.Context, sessionID, query string, limit int) []candidate {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	resp, err := s.embedder.Embed(ctx, llm.EmbedRequest{Model: s.model, Texts: []string{query}})
	if err != nil || len(resp.Embeddings) == 0 {
		s.logger.Debug("vector search skipped", "session_id", sessionID, "error", err)
		return nil
	}
	out, err := s.vectorSearch(ctx, sessionID, resp.Embeddings[0], limit)
	if err != nil {
		s.logger.Debug("vector search failed", "session_id", sessionID, "error", err)
		return nil
	}
	return out
}

// vectorSearch scores every embedded chunk of the session in memory.
func (s *SearchService) vectorSearch(ctx context.Context, sessionID string, queryVec []float32, limit int) ([]candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.session_id, d.file_name, c.position, c.text, c.token_count,
		       c.created_at, d.created_at, e.vector
		FROM chunk_embedding e
		JOIN chunk c ON c.id = e.chunk_id
		JOIN document d ON d.id = c.document_id
		WHERE c.session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	type scored struct {
		candidate
		sim float32
	}
	var all []scored
	for rows.Next() {
		var (
			c       candidate
			created string
			vecJSON string
		)
		if err := rows.Scan(&c.chunk.ID, &c.chunk.DocumentID, &c.chunk.SessionID, &c.chunk.FileName,
			&c.chunk.Position, &c.chunk.Text, &c.chunk.TokenCount, &created, &c.docCreated, &vecJSON); err != nil {
			return nil, fmt.Errorf("vector scan: %w", err)
		}
		vec, err := decodeEmbedding(vecJSON)
		if err != nil {
			continue
		}
		c.chunk.CreatedAt = parseStoredTime(created)
		c.docID = c.chunk.DocumentID
		all = append(all, scored{candidate: c, sim: cosineSimilarity(queryVec, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].sim != all[j].sim {
			return all[i].sim > all[j].sim
		}
		return newerFirst(all[i].candidate, all[j].candidate)
	})
	out := make([]candidate, 0, min(limit, len(all)))
	for i := 0; i < len(all) && i < limit; i++ {
		out = append(out, all[i].candidate)
	}
	return out, nil
}

// rrfMerge fuses both rankings by Reciprocal Rank Fusion and returns the top k.
func rrfMerge(lexical, vector []candidate, k int) []KnowledgeChunk {
	type fused struct {
		candidate
		score  float64
		method RetrievalMethod
	}
	byID := map[string]*fused{}
	for rank, c := range lexical {
		byID[c.chunk.ID] = &fused{candidate: c, score: 1.0 / float64(rrfK+rank+1), method: MethodBM25}
	}
	for rank, c := range vector {
		contrib := 1.0 / float64(rrfK+rank+1)
		if f, ok := byID[c.chunk.ID]; ok {
			f.score += contrib
			f.method = MethodHybrid
			continue
		}
		byID[c.chunk.ID] = &fused{candidate: c, score: contrib, method: MethodVector}
	}

	all := make([]*fused, 0, len(byID))
	for _, f := range byID {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if math.Abs(all[i].score-all[j].score) > 1e-12 {
			return all[i].score > all[j].score
		}
		return newerFirst(all[i].candidate, all[j].candidate)
	})

	out := make([]KnowledgeChunk, 0, min(k, len(all)))
	for i := 0; i < len(all) && i < k; i++ {
		c := all[i].chunk
		c.Score = all[i].score
		c.Method = all[i].method
		out = append(out, c)
	}
	return out
}

// newerFirst orders by document recency, then position, then chunk id.
func newerFirst(a, b candidate) bool {
	if a.docCreated != b.docCreated {
		return a.docCreated > b.docCreated
	}
	if a.docID != b.docID {
		return a.docID > b.docID
	}
	if a.chunk.Position != b.chunk.Position {
		return a.chunk.Position < b.chunk.Position
	}
	return a.chunk.ID < b.chunk.ID
}

// cosineSimilarity returns 0 for mismatched or zero-magnitude vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

func resolveK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	return min(k, maxK)
}
