package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/academia-ai/tutor/internal/infra/eventbus"
	"github.com/academia-ai/tutor/internal/infra/sqlite"
	"github.com/academia-ai/tutor/pkg/uuid"
)

// batchConcurrency bounds parallel extraction in IngestBatch.
const batchConcurrency = 4

// IngestFileInput identifies a file on disk to ingest into a session's store.
type IngestFileInput struct {
	SessionID string
	Path      string
	FileName  string // display name; defaults to the base of Path
}

// IngestBytesInput carries an uploaded file's raw content.
type IngestBytesInput struct {
	SessionID string
	FileName  string
	Data      []byte
}

// IngestService turns uploaded files into stored, searchable chunks.
type IngestService struct {
	db     *sql.DB
	bus    eventbus.EventBus
	logger *slog.Logger
	now    func() time.Time

	chunkSize    int
	chunkOverlap int
}

// NewIngestService creates an IngestService. bus may be nil when nothing consumes ingest events.
func NewIngestService(db *sql.DB, bus eventbus.EventBus, logger *slog.Logger) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		db:           db,
		bus:          bus,
		logger:       logger,
		now:          time.Now,
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
	}
}

// IngestFile reads a file from disk and ingests it. Errors are reported in the result.
func (s *IngestService) IngestFile(ctx context.Context, in IngestFileInput) IngestResult {
	name := in.FileName
	if name == "" {
		name = filepath.Base(in.Path)
	}
	if _, err := KindFromName(name); err != nil {
		return failed(name, err)
	}
	info, err := os.Stat(in.Path)
	if err != nil {
		return failed(name, fmt.Errorf("read %s: %w", name, err))
	}
	if info.Size() > MaxDocumentBytes {
		return failed(name, fmt.Errorf("%w: %d bytes", ErrDocumentTooLarge, info.Size()))
	}
	data, err := os.ReadFile(in.Path)
	if err != nil {
		return failed(name, fmt.Errorf("read %s: %w", name, err))
	}
	return s.IngestBytes(ctx, IngestBytesInput{SessionID: in.SessionID, FileName: name, Data: data})
}

// IngestBytes extracts, chunks and stores one document in a single transaction.
// On any failure nothing is persisted and the result carries the error.
func (s *IngestService) IngestBytes(ctx context.Context, in IngestBytesInput) IngestResult {
	res, err := s.ingest(ctx, in)
	if err != nil {
		s.logger.Warn("document ingest failed", "session_id", in.SessionID, "file", in.FileName, "error", err)
		return failed(in.FileName, err)
	}
	return res
}

func (s *IngestService) ingest(ctx context.Context, in IngestBytesInput) (IngestResult, error) {
	if in.SessionID == "" {
		return IngestResult{}, errors.New("session id is required")
	}
	kind, err := KindFromName(in.FileName)
	if err != nil {
		return IngestResult{}, err
	}
	if len(in.Data) > MaxDocumentBytes {
		return IngestResult{}, fmt.Errorf("%w: %d bytes", ErrDocumentTooLarge, len(in.Data))
	}
	text, err := ExtractText(kind, in.Data)
	if err != nil {
		return IngestResult{}, err
	}
	chunks := Chunk(text, s.chunkSize, s.chunkOverlap)
	if len(chunks) == 0 {
		return IngestResult{}, ErrEmptyDocument
	}

	doc := Document{
		ID:          uuid.NewV7().String(),
		SessionID:   in.SessionID,
		FileName:    in.FileName,
		Kind:        kind,
		ContentHash: strconv.FormatUint(xxhash.Sum64String(text), 16),
		ByteSize:    int64(len(in.Data)),
		ChunkCount:  len(chunks),
		CreatedAt:   s.now().UTC(),
	}

	err = sqlite.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := insertDocument(ctx, tx, doc); err != nil {
			return err
		}
		return insertChunks(ctx, tx, doc, chunks)
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("store document: %w", err)
	}

	if s.bus != nil {
		s.bus.Publish(TopicKnowledgeIngested, IngestedEventPayload{
			DocumentID: doc.ID,
			SessionID:  doc.SessionID,
			ChunkCount: doc.ChunkCount,
		})
	}
	s.logger.Info("document ingested",
		"session_id", doc.SessionID, "document_id", doc.ID, "file", doc.FileName,
		"kind", doc.Kind, "chunks", doc.ChunkCount, "hash", doc.ContentHash)

	return IngestResult{
		Status:     StatusSuccess,
		FileName:   doc.FileName,
		DocumentID: doc.ID,
		ChunkCount: doc.ChunkCount,
	}, nil
}

func insertDocument(ctx context.Context, tx *sql.Tx, d Document) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO document (id, session_id, file_name, kind, content_hash, byte_size, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SessionID, d.FileName, string(d.Kind), d.ContentHash, d.ByteSize, d.ChunkCount,
		d.CreatedAt.Format(storedTimeLayout),
	)
	return err
}

func insertChunks(ctx context.Context, tx *sql.Tx, d Document, chunks []string) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk (id, document_id, session_id, position, text, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close() //nolint:errcheck

	created := d.CreatedAt.Format(storedTimeLayout)
	for i, text := range chunks {
		if _, err := stmt.ExecContext(ctx, uuid.NewV7().String(), d.ID, d.SessionID, i, text, countTokens(text), created); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	return nil
}

// IngestBatch ingests uploads in parallel and returns one result per input, in input order.
// A failing file never affects the others.
func (s *IngestService) IngestBatch(ctx context.Context, inputs []IngestBytesInput) []IngestResult {
	results := make([]IngestResult, len(inputs))
	sem := make(chan struct{}, batchConcurrency)
	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = failed(in.FileName, ctx.Err())
				return
			}
			results[i] = s.IngestBytes(ctx, in)
		}()
	}
	wg.Wait()
	return results
}

// DeleteDocument removes a document with its chunks and embeddings.
func (s *IngestService) DeleteDocument(ctx context.Context, sessionID, documentID string) error {
	unlock := lockDocument(documentID)
	defer unlock()

	err := sqlite.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// Chunks go first so the FTS delete trigger sees every row.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunk WHERE document_id = ? AND session_id = ?`, documentID, sessionID); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM document WHERE id = ? AND session_id = ?`, documentID, sessionID)
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrDocumentNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("document deleted", "session_id", sessionID, "document_id", documentID)
	return nil
}

// ListDocuments returns a session's documents, newest first.
func (s *IngestService) ListDocuments(ctx context.Context, sessionID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, file_name, kind, content_hash, byte_size, chunk_count, created_at
		FROM document WHERE session_id = ?
		ORDER BY created_at DESC, id DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	docs := []Document{}
	for rows.Next() {
		var (
			d       Document
			kind    string
			created string
		)
		if err := rows.Scan(&d.ID, &d.SessionID, &d.FileName, &kind, &d.ContentHash, &d.ByteSize, &d.ChunkCount, &created); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Kind = Kind(kind)
		d.CreatedAt = parseStoredTime(created)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func parseStoredTime(s string) time.Time {
	t, err := time.Parse(storedTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
