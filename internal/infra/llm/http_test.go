package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// hold blocks a handler until the client goes away or the fallback elapses.
func hold(r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(2 * time.Second):
	}
}

// ============================================================================
// Timeouts before the response headers
// ============================================================================

func TestProviders_SlowResponseIsRetryableTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hold(r)
	}))
	defer srv.Close()

	timeout := WithTimeout(100 * time.Millisecond)
	providers := map[string]LLMProvider{
		"ollama": NewOllamaProvider(srv.URL, "llama3.2", timeout),
		"openai": NewOpenAIProvider("openai", "o-key", "gpt-4o-mini", WithBaseURL(srv.URL), timeout),
		"gemini": NewGeminiProvider("g-key", "gemini-1.5-flash", WithBaseURL(srv.URL), timeout),
	}
	for name, p := range providers {
		start := time.Now()
		_, err := p.ChatCompletion(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hola"}}})
		if !errors.Is(err, ErrTransport) || !Retryable(err) {
			t.Errorf("%s: expected retryable ErrTransport, got %v", name, err)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("%s: expected the timeout to be reported as a deadline, got %v", name, err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("%s: timeout took %s", name, elapsed)
		}
	}
}

func TestProviders_CallerCancelIsNotRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hold(r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	p := NewOllamaProvider(srv.URL, "llama3.2", WithTimeout(5*time.Second))
	_, err := p.ChatCompletion(ctx, ChatRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if Retryable(err) {
		t.Errorf("caller cancellation must not be retried: %v", err)
	}
}

// ============================================================================
// Streams: the timeout bounds silence, not total duration
// ============================================================================

func streamFragments(t *testing.T, gap time.Duration, parts []string, stallAfter bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for i, part := range parts {
			if i > 0 {
				time.Sleep(gap)
			}
			json.NewEncoder(w).Encode(ollamaChatResponse{Message: Message{Role: "assistant", Content: part}}) //nolint:errcheck
			flusher.Flush()
		}
		if stallAfter {
			hold(r)
			return
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{Done: true, DoneReason: "stop"}) //nolint:errcheck
	}))
}

func TestOllamaStream_SteadyFragmentsOutliveTimeout(t *testing.T) {
	t.Parallel()

	parts := make([]string, 8)
	want := ""
	for i := range parts {
		parts[i] = fmt.Sprintf("p%d ", i)
		want += parts[i]
	}
	// 8 fragments 60ms apart take ~420ms, well past the 200ms timeout.
	srv := streamFragments(t, 60*time.Millisecond, parts, false)
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3.2", WithTimeout(200*time.Millisecond))
	ch, err := p.ChatCompletionStream(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	text, streamErr := drain(ch)
	if streamErr != nil {
		t.Fatalf("steady stream was cut off after %q: %v", text, streamErr)
	}
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestOllamaStream_StalledStreamIsTransportError(t *testing.T) {
	t.Parallel()

	srv := streamFragments(t, 0, []string{"parcial"}, true)
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3.2", WithTimeout(100*time.Millisecond))
	ch, err := p.ChatCompletionStream(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	text, streamErr := drain(ch)
	if text != "parcial" {
		t.Errorf("expected the fragment before the stall, got %q", text)
	}
	if !errors.Is(streamErr, ErrTransport) || !Retryable(streamErr) || !errors.Is(streamErr, errStalled) {
		t.Errorf("expected stalled transport error, got %v", streamErr)
	}
}
