package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const defaultOpenAIURL = "https://api.openai.com/v1"

// OpenAIProvider implements LLMProvider and Embedder for any backend speaking the
// OpenAI chat-completions protocol (OpenAI itself, Mistral).
type OpenAIProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	http    httpTransport
}

// NewOpenAIProvider creates an adapter registered under name (used in errors and ModelMeta).
func NewOpenAIProvider(name, apiKey, model string, opts ...Option) *OpenAIProvider {
	if name == "" {
		name = "openai"
	}
	o := buildOptions(defaultOpenAIURL, opts)
	return &OpenAIProvider{
		name:    name,
		baseURL: o.baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    o.transport(name),
	}
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatRequest struct {
	Model          string                `json:"model"`
	Messages       []Message             `json:"messages"`
	Temperature    *float32              `json:"temperature,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Stream         bool                  `json:"stream,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		Delta        Message `json:"delta"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

func (p *OpenAIProvider) chatRequest(req ChatRequest, stream bool) openAIChatRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	out := openAIChatRequest{
		Model:     model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	if req.JSONMode {
		out.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}
	return out
}

// ChatCompletion performs POST /chat/completions.
func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := p.http.postJSON(ctx, p.baseURL+"/chat/completions", p.headers(), p.chatRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	var resp openAIChatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, transportError(p.name, "decode chat response", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty choices in response", p.name)
	}
	return &ChatResponse{
		Content:    resp.Choices[0].Message.Content,
		StopReason: resp.Choices[0].FinishReason,
		Tokens:     resp.Usage.TotalTokens,
	}, nil
}

// ChatCompletionStream performs POST /chat/completions with stream=true and
// relays the SSE deltas until the [DONE] sentinel.
func (p *OpenAIProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	body, err := p.http.postJSON(ctx, p.baseURL+"/chat/completions", p.headers(), p.chatRequest(req, true))
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer body.Close() //nolint:errcheck

		var streamErr error
		readErr := readSSE(ctx, body, func(data []byte) bool {
			if strings.TrimSpace(string(data)) == "[DONE]" {
				return true
			}
			var frame openAIChatResponse
			if err := json.Unmarshal(data, &frame); err != nil {
				streamErr = transportError(p.name, "decode stream frame", err)
				return true
			}
			if len(frame.Choices) == 0 || frame.Choices[0].Delta.Content == "" {
				return false
			}
			return !emit(ctx, out, StreamChunk{Delta: frame.Choices[0].Delta.Content})
		})
		if streamErr == nil && readErr != nil && ctx.Err() == nil {
			streamErr = transportError(p.name, "read stream", readErr)
		}
		if streamErr != nil {
			emit(ctx, out, StreamChunk{Err: streamErr})
		}
	}()
	return out, nil
}

// Embed performs POST /embeddings with the whole batch.
func (p *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	if len(req.Texts) == 0 {
		return &EmbedResponse{Embeddings: [][]float32{}}, nil
	}
	model := req.Model
	if model == "" {
		model = p.model
	}
	body, err := p.http.postJSON(ctx, p.baseURL+"/embeddings", p.headers(), openAIEmbedRequest{Model: model, Input: req.Texts})
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", p.name, err)
	}
	defer body.Close() //nolint:errcheck

	var resp openAIEmbedResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, transportError(p.name, "decode embed response", err)
	}
	vectors := make([][]float32, len(req.Texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%s embed: index %d out of range", p.name, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return &EmbedResponse{Embeddings: vectors, Tokens: resp.Usage.TotalTokens}, nil
}

// ModelInfo returns static metadata for this provider/model.
func (p *OpenAIProvider) ModelInfo() ModelMeta {
	return ModelMeta{ID: p.model, Provider: p.name, Version: "v1", MaxTokens: 128000}
}

// HealthCheck calls GET /models with the configured key.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	body, err := p.http.get(ctx, p.baseURL+"/models", p.headers())
	if err != nil {
		return fmt.Errorf("%s healthcheck: %w", p.name, err)
	}
	return body.Close()
}
