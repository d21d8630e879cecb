package llm

import "context"

// LLMProvider is the model-agnostic interface every backend variant implements,
// so callers are never coupled to a specific vendor.
type LLMProvider interface {
	// ChatCompletion performs a non-streaming chat completion.
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// ChatCompletionStream starts a streaming completion and returns fragments lazily.
	// Errors before the first byte are returned directly; later ones arrive as StreamChunk.Err.
	ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
	// ModelInfo returns static metadata about the provider/model.
	ModelInfo() ModelMeta
	// HealthCheck returns nil if the provider is reachable and operational.
	HealthCheck(ctx context.Context) error
}

// Embedder is implemented by providers that can compute dense vectors.
type Embedder interface {
	Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error)
}
