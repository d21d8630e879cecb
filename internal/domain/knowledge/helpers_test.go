package knowledge

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/academia-ai/tutor/internal/infra/llm"
	"github.com/academia-ai/tutor/internal/infra/sqlite"
)

// setupTestDB opens an in-memory SQLite database with all migrations applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildText returns n filler tokens.
func buildText(n int) string {
	return strings.TrimSpace(strings.Repeat("palabra ", n))
}

// buildDOCX assembles a minimal OOXML package with one paragraph per entry.
func buildDOCX(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var body strings.Builder
	for _, p := range paragraphs {
		fmt.Fprintf(&body, `<w:p><w:r><w:t xml:space="preserve">%s</w:t></w:r></w:p>`, p)
	}
	xmlDoc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body.String() + `</w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
			`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
			`<Default Extension="xml" ContentType="application/xml"/>` +
			`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
			`</Types>`,
		"word/document.xml":   xmlDoc,
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, content); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// vocabEmbedder maps text onto a bag-of-words vector over a fixed vocabulary,
// so cosine similarity reflects shared topic words.
type vocabEmbedder struct {
	mu    sync.Mutex
	vocab []string
	calls int
	err   error
}

func newVocabEmbedder(vocab ...string) *vocabEmbedder { return &vocabEmbedder{vocab: vocab} }

func (v *vocabEmbedder) Embed(_ context.Context, req llm.EmbedRequest) (*llm.EmbedResponse, error) {
	v.mu.Lock()
	v.calls++
	err := v.err
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(req.Texts))
	for i, text := range req.Texts {
		vec := make([]float32, len(v.vocab)+1)
		vec[len(v.vocab)] = 0.01 // avoid zero vectors
		lower := strings.ToLower(text)
		for j, w := range v.vocab {
			vec[j] = float32(strings.Count(lower, w))
		}
		out[i] = vec
	}
	return &llm.EmbedResponse{Embeddings: out}, nil
}

func (v *vocabEmbedder) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}
