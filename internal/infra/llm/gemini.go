package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	defaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"
	headerGoogAPIKey = "x-goog-api-key"
)

// GeminiProvider implements LLMProvider against the Google Generative Language API.
type GeminiProvider struct {
	baseURL string
	apiKey  string
	model   string
	http    httpTransport
}

// NewGeminiProvider creates a GeminiProvider. The key travels in the x-goog-api-key header
// so it never appears in URLs or the errors that quote them.
func NewGeminiProvider(apiKey, model string, opts ...Option) *GeminiProvider {
	o := buildOptions(defaultGeminiURL, opts)
	return &GeminiProvider{
		baseURL: o.baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    o.transport("gemini"),
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"system_instruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (r geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

// buildGeminiRequest folds system messages into system_instruction and maps
// the assistant role to "model".
func buildGeminiRequest(req ChatRequest) geminiRequest {
	var out geminiRequest
	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}
	}

	cfg := geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
	if req.Temperature != 0 {
		t := req.Temperature
		cfg.Temperature = &t
	}
	if req.JSONMode {
		cfg.ResponseMIMEType = mimeJSON
	}
	if cfg != (geminiGenerationConfig{}) {
		out.GenerationConfig = &cfg
	}
	return out
}

func (p *GeminiProvider) endpoint(model, method string, query url.Values) string {
	if model == "" {
		model = p.model
	}
	endpoint := fmt.Sprintf("%s/models/%s:%s", p.baseURL, url.PathEscape(model), method)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return endpoint
}

func (p *GeminiProvider) headers() map[string]string {
	return map[string]string{headerGoogAPIKey: p.apiKey}
}

// ChatCompletion performs POST models/{model}:generateContent.
func (p *GeminiProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := p.http.postJSON(ctx, p.endpoint(req.Model, "generateContent", nil), p.headers(), buildGeminiRequest(req))
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	var resp geminiResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, transportError("gemini", "decode response", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: no candidates in response")
	}
	return &ChatResponse{
		Content:    resp.text(),
		StopReason: strings.ToLower(resp.Candidates[0].FinishReason),
		Tokens:     resp.UsageMetadata.TotalTokenCount,
	}, nil
}

// ChatCompletionStream performs POST models/{model}:streamGenerateContent?alt=sse.
func (p *GeminiProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	q := url.Values{}
	q.Set("alt", "sse")
	body, err := p.http.postJSON(ctx, p.endpoint(req.Model, "streamGenerateContent", q), p.headers(), buildGeminiRequest(req))
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer body.Close() //nolint:errcheck

		var streamErr error
		readErr := readSSE(ctx, body, func(data []byte) bool {
			var frame geminiResponse
			if err := json.Unmarshal(data, &frame); err != nil {
				streamErr = transportError("gemini", "decode stream frame", err)
				return true
			}
			if text := frame.text(); text != "" {
				return !emit(ctx, out, StreamChunk{Delta: text})
			}
			return false
		})
		if streamErr == nil && readErr != nil && ctx.Err() == nil {
			streamErr = transportError("gemini", "read stream", readErr)
		}
		if streamErr != nil {
			emit(ctx, out, StreamChunk{Err: streamErr})
		}
	}()
	return out, nil
}

// ModelInfo returns static metadata for this provider/model.
func (p *GeminiProvider) ModelInfo() ModelMeta {
	return ModelMeta{ID: p.model, Provider: "gemini", Version: "v1beta", MaxTokens: 1048576}
}

// HealthCheck fetches the model resource, which also validates the key.
func (p *GeminiProvider) HealthCheck(ctx context.Context) error {
	body, err := p.http.get(ctx, fmt.Sprintf("%s/models/%s", p.baseURL, url.PathEscape(p.model)), p.headers())
	if err != nil {
		return fmt.Errorf("gemini healthcheck: %w", err)
	}
	return body.Close()
}
