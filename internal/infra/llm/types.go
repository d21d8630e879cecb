// Package llm defines the model-agnostic LLM provider abstraction.
// All types here are shared between the provider interface, the adapters and the router.
package llm

// Conversation roles understood by every adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single turn in a conversation (role + content).
type Message struct {
	Role    string `json:"role"` // "system" | "user" | "assistant"
	Content string `json:"content"`
}

// ChatRequest is the input for a chat completion, streaming or not.
type ChatRequest struct {
	// Model overrides the provider default when non-empty.
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	// JSONMode asks the backend to constrain output to a JSON object when it supports it.
	JSONMode bool
}

// ChatResponse is the output from a non-streaming chat completion.
type ChatResponse struct {
	Content    string // The assistant message text.
	StopReason string // "stop" | "length" | "error"
	Tokens     int    // Total tokens consumed (prompt + completion).
}

// StreamChunk is one fragment of a streaming completion. The channel carrying
// chunks is closed after the last fragment; a non-nil Err is always the last value.
type StreamChunk struct {
	Delta string
	Err   error
}

// EmbedRequest is the input for a batch embedding call.
type EmbedRequest struct {
	// Model overrides the provider default when non-empty.
	Model string
	Texts []string
}

// EmbedResponse is the output from a batch embedding call.
// Embeddings[i] corresponds to Texts[i] in the request.
type EmbedResponse struct {
	Embeddings [][]float32
	Tokens     int
}

// ModelMeta describes the model / provider identity.
type ModelMeta struct {
	ID        string // e.g. "gemini-1.5-flash", "llama3.2"
	Provider  string // e.g. "gemini", "openai", "ollama"
	Version   string
	MaxTokens int // Maximum context window size.
}
