package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
)

// Ollama endpoints:
//   - POST /api/chat   chat completion (single JSON or NDJSON stream)
//   - POST /api/embed  batch embeddings
//   - GET  /api/tags   reachability probe

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider implements LLMProvider and Embedder against a local Ollama daemon.
// No credential is required.
type OllamaProvider struct {
	baseURL string
	model   string
	http    httpTransport
}

// NewOllamaProvider creates an OllamaProvider for baseURL (empty means localhost:11434).
func NewOllamaProvider(baseURL, model string, opts ...Option) *OllamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	o := buildOptions(baseURL, opts)
	return &OllamaProvider{
		baseURL: o.baseURL,
		model:   model,
		http:    o.transport("ollama"),
	}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         Message `json:"message"`
	DoneReason      string  `json:"done_reason"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error,omitempty"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings      [][]float32 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

func (p *OllamaProvider) chatRequest(req ChatRequest, stream bool) ollamaChatRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	out := ollamaChatRequest{
		Model:    model,
		Messages: req.Messages,
		Stream:   stream,
		Options:  buildChatOptions(req),
	}
	if req.JSONMode {
		out.Format = "json"
	}
	return out
}

// ChatCompletion performs a non-streaming chat via POST /api/chat.
func (p *OllamaProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := p.http.postJSON(ctx, p.baseURL+"/api/chat", nil, p.chatRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	var resp ollamaChatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, transportError("ollama", "decode chat response", err)
	}
	return &ChatResponse{
		Content:    resp.Message.Content,
		StopReason: resp.DoneReason,
		Tokens:     resp.PromptEvalCount + resp.EvalCount,
	}, nil
}

// ChatCompletionStream reads the NDJSON stream of POST /api/chat with stream=true.
func (p *OllamaProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	body, err := p.http.postJSON(ctx, p.baseURL+"/api/chat", nil, p.chatRequest(req, true))
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer body.Close() //nolint:errcheck

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var frame ollamaChatResponse
			if err := json.Unmarshal(line, &frame); err != nil {
				emit(ctx, out, StreamChunk{Err: transportError("ollama", "decode stream frame", err)})
				return
			}
			if frame.Error != "" {
				emit(ctx, out, StreamChunk{Err: fmt.Errorf("ollama stream: %w: %s", ErrTransport, frame.Error)})
				return
			}
			if frame.Message.Content != "" && !emit(ctx, out, StreamChunk{Delta: frame.Message.Content}) {
				return
			}
			if frame.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			emit(ctx, out, StreamChunk{Err: transportError("ollama", "read stream", err)})
		}
	}()
	return out, nil
}

// Embed computes embeddings for all texts in one POST /api/embed call.
func (p *OllamaProvider) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	if len(req.Texts) == 0 {
		return &EmbedResponse{Embeddings: [][]float32{}}, nil
	}
	model := req.Model
	if model == "" {
		model = p.model
	}

	body, err := p.http.postJSON(ctx, p.baseURL+"/api/embed", nil, ollamaEmbedRequest{Model: model, Input: req.Texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer body.Close() //nolint:errcheck

	var resp ollamaEmbedResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, transportError("ollama", "decode embed response", err)
	}
	if len(resp.Embeddings) != len(req.Texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d texts", len(resp.Embeddings), len(req.Texts))
	}
	return &EmbedResponse{Embeddings: resp.Embeddings, Tokens: resp.PromptEvalCount}, nil
}

// buildChatOptions converts ChatRequest fields into the Ollama options map.
func buildChatOptions(req ChatRequest) map[string]any {
	opts := map[string]any{}
	if req.Temperature != 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens != 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// ModelInfo returns static metadata for this provider/model.
func (p *OllamaProvider) ModelInfo() ModelMeta {
	return ModelMeta{ID: p.model, Provider: "ollama", Version: "v1", MaxTokens: 8192}
}

// HealthCheck calls GET /api/tags and returns nil if Ollama is reachable.
func (p *OllamaProvider) HealthCheck(ctx context.Context) error {
	body, err := p.http.get(ctx, p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama healthcheck: %w", err)
	}
	return body.Close()
}
