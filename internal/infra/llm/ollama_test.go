package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ============================================================================
// Embed tests
// ============================================================================

func TestOllamaProvider_Embed_Batch(t *testing.T) {
	t.Parallel()

	var got ollamaEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.Error(w, "unexpected path", http.StatusTeapot)
			return
		}
		json.NewDecoder(r.Body).Decode(&got) //nolint:errcheck
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaEmbedResponse{ //nolint:errcheck
			Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text")
	resp, err := p.Embed(context.Background(), EmbedRequest{Texts: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(resp.Embeddings) != 2 || resp.Embeddings[1][0] != 0.3 {
		t.Fatalf("unexpected embeddings: %v", resp.Embeddings)
	}
	if got.Model != "nomic-embed-text" || len(got.Input) != 2 {
		t.Errorf("unexpected request: %+v", got)
	}
}

func TestOllamaProvider_Embed_CountMismatch_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1}}}) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text")
	if _, err := p.Embed(context.Background(), EmbedRequest{Texts: []string{"a", "b"}}); err == nil {
		t.Error("expected error when vector count differs from input count")
	}
}

func TestOllamaProvider_Embed_EmptyTexts_ReturnsEmptyEmbeddings(t *testing.T) {
	t.Parallel()

	p := NewOllamaProvider("http://localhost:99999", "nomic-embed-text")
	resp, err := p.Embed(context.Background(), EmbedRequest{Texts: []string{}})
	if err != nil {
		t.Fatalf("expected no error for empty texts, got %v", err)
	}
	if len(resp.Embeddings) != 0 {
		t.Errorf("expected 0 embeddings, got %d", len(resp.Embeddings))
	}
}

// ============================================================================
// ChatCompletion tests
// ============================================================================

func TestOllamaProvider_ChatCompletion_Success(t *testing.T) {
	t.Parallel()

	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.Error(w, "unexpected path", http.StatusTeapot)
			return
		}
		json.NewDecoder(r.Body).Decode(&got) //nolint:errcheck
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaChatResponse{ //nolint:errcheck
			Message:         Message{Role: "assistant", Content: "Hola desde Ollama"},
			DoneReason:      "stop",
			Done:            true,
			PromptEvalCount: 7,
			EvalCount:       5,
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3.2")
	resp, err := p.ChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hola"}},
		JSONMode: true,
	})
	if err != nil {
		t.Fatalf("ChatCompletion failed: %v", err)
	}
	if resp.Content != "Hola desde Ollama" || resp.StopReason != "stop" || resp.Tokens != 12 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if got.Stream || got.Format != "json" || got.Model != "llama3.2" {
		t.Errorf("unexpected request: %+v", got)
	}
}

func TestOllamaProvider_ChatCompletion_ClassifiesStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrInvalidModel},
		{http.StatusServiceUnavailable, ErrTransport},
		{http.StatusTooManyRequests, ErrRateLimit},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			p := NewOllamaProvider(srv.URL, "llama3.2")
			_, err := p.ChatCompletion(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var se *StatusError
			if !errors.As(err, &se) || se.StatusCode != tc.status {
				t.Errorf("expected StatusError with %d, got %v", tc.status, err)
			}
		})
	}
}

// ============================================================================
// Streaming tests
// ============================================================================

func TestOllamaProvider_ChatCompletionStream_NDJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, part := range []string{"La ", "fotosíntesis ", "convierte luz."} {
			json.NewEncoder(w).Encode(ollamaChatResponse{Message: Message{Role: "assistant", Content: part}}) //nolint:errcheck
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{Done: true, DoneReason: "stop"}) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3.2")
	ch, err := p.ChatCompletionStream(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	text, streamErr := drain(ch)
	if streamErr != nil {
		t.Fatalf("unexpected stream error: %v", streamErr)
	}
	if text != "La fotosíntesis convierte luz." {
		t.Errorf("unexpected text %q", text)
	}
}

func TestOllamaProvider_ChatCompletionStream_ErrorFrame(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaChatResponse{Message: Message{Content: "parcial"}}) //nolint:errcheck
		w.Write([]byte(`{"error":"model crashed"}` + "\n"))                                 //nolint:errcheck
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3.2")
	ch, err := p.ChatCompletionStream(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	text, streamErr := drain(ch)
	if text != "parcial" {
		t.Errorf("expected partial text before error, got %q", text)
	}
	if !errors.Is(streamErr, ErrTransport) || !strings.Contains(streamErr.Error(), "model crashed") {
		t.Errorf("expected transport error frame, got %v", streamErr)
	}
}

// ============================================================================
// HealthCheck / ModelInfo tests
// ============================================================================

func TestOllamaProvider_HealthCheck_Healthy(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "academia-tutor/") {
			http.Error(w, "unexpected user agent", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"models": []any{}}) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3.2")
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("expected healthy, got error: %v", err)
	}
}

func TestOllamaProvider_HealthCheck_Down_IsTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3.2")
	if err := p.HealthCheck(context.Background()); !errors.Is(err, ErrTransport) {
		t.Errorf("expected ErrTransport when server is down, got %v", err)
	}
}

func TestOllamaProvider_DefaultsBaseURL(t *testing.T) {
	t.Parallel()

	p := NewOllamaProvider("", "llama3.2")
	if p.baseURL != defaultOllamaURL {
		t.Errorf("expected %s, got %s", defaultOllamaURL, p.baseURL)
	}
	if meta := p.ModelInfo(); meta.ID != "llama3.2" || meta.Provider != "ollama" {
		t.Errorf("unexpected meta %+v", meta)
	}
}

// ============================================================================
// buildChatOptions tests
// ============================================================================

func TestBuildChatOptions(t *testing.T) {
	t.Parallel()

	opts := buildChatOptions(ChatRequest{Temperature: 0.7, MaxTokens: 256})
	if opts["temperature"] != float32(0.7) {
		t.Errorf("expected temperature 0.7, got %v", opts["temperature"])
	}
	if opts["num_predict"] != 256 {
		t.Errorf("expected num_predict 256, got %v", opts["num_predict"])
	}
	if buildChatOptions(ChatRequest{}) != nil {
		t.Error("expected nil options when Temperature and MaxTokens are zero")
	}
}

// drain collects a stream into text and its terminal error.
func drain(ch <-chan StreamChunk) (string, error) {
	var b strings.Builder
	for c := range ch {
		if c.Err != nil {
			return b.String(), c.Err
		}
		b.WriteString(c.Delta)
	}
	return b.String(), nil
}
