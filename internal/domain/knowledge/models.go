// Package knowledge holds the learner's uploaded study material: document
// extraction, chunking, the SQLite-backed store and hybrid retrieval.
package knowledge

import (
	"errors"
	"time"
)

// Kind is the closed set of supported document formats.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindDOCX Kind = "docx"
	KindText Kind = "text"
)

// Status is the outcome reported for one ingested file.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// RetrievalMethod records which ranker surfaced a chunk.
type RetrievalMethod string

const (
	MethodBM25   RetrievalMethod = "bm25"
	MethodVector RetrievalMethod = "vector"
	MethodHybrid RetrievalMethod = "hybrid"
)

var (
	// ErrUnsupportedFormat is reported for files outside the supported kinds.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrEmptyDocument is reported when extraction yields no text.
	ErrEmptyDocument = errors.New("document contains no extractable text")
	// ErrDocumentTooLarge is reported for uploads above MaxDocumentBytes.
	ErrDocumentTooLarge = errors.New("document exceeds size limit")
	// ErrDocumentNotFound is returned by DeleteDocument for unknown ids.
	ErrDocumentNotFound = errors.New("document not found")
)

// storedTimeLayout is fixed-width so stored timestamps sort lexicographically.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Document is one uploaded source file.
// DB table: document
type Document struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	FileName    string    `json:"file_name"`
	Kind        Kind      `json:"kind"`
	ContentHash string    `json:"content_hash"`
	ByteSize    int64     `json:"byte_size"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// KnowledgeChunk is a contiguous window of a document's text, the retrieval unit.
// Chunks are immutable once written.
// DB table: chunk (FTS5 shadow: chunk_fts)
//
//nolint:revive // domain term
type KnowledgeChunk struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	SessionID  string          `json:"session_id"`
	FileName   string          `json:"file_name"`
	Position   int             `json:"position"`
	Text       string          `json:"text"`
	TokenCount int             `json:"token_count"`
	CreatedAt  time.Time       `json:"created_at"`
	Score      float64         `json:"score,omitempty"`
	Method     RetrievalMethod `json:"method,omitempty"`
}

// IngestResult reports the outcome of ingesting one file. Failures are data, not Go errors.
type IngestResult struct {
	Status     Status `json:"status"`
	FileName   string `json:"file_name"`
	DocumentID string `json:"document_id,omitempty"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
	Err        error  `json:"-"`
}

// OK reports whether the file was stored.
func (r IngestResult) OK() bool { return r.Status == StatusSuccess }

func failed(fileName string, err error) IngestResult {
	return IngestResult{Status: StatusError, FileName: fileName, Error: err.Error(), Err: err}
}

// IngestedEventPayload is published on TopicKnowledgeIngested after commit.
type IngestedEventPayload struct {
	DocumentID string
	SessionID  string
	ChunkCount int
}

// TopicKnowledgeIngested is the event bus topic published after a successful ingest.
const TopicKnowledgeIngested = "knowledge.ingested"
