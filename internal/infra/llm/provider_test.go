package llm

import "testing"

// Compile-time checks that every adapter satisfies the interfaces it claims.
var (
	_ LLMProvider = (*OllamaProvider)(nil)
	_ LLMProvider = (*OpenAIProvider)(nil)
	_ LLMProvider = (*GeminiProvider)(nil)
	_ LLMProvider = (*RetryingProvider)(nil)
	_ Embedder    = (*OllamaProvider)(nil)
	_ Embedder    = (*OpenAIProvider)(nil)
)

func TestGeminiProvider_IsNotEmbedder(t *testing.T) {
	t.Parallel()

	var p LLMProvider = NewGeminiProvider("k", "gemini-1.5-flash")
	if _, ok := p.(Embedder); ok {
		t.Error("gemini adapter should not advertise embeddings")
	}
}
