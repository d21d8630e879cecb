package knowledge

import "strings"

// Ingestion defaults: 200-token windows sharing 30 tokens (15%) with the previous one.
const (
	DefaultChunkSize    = 200
	DefaultChunkOverlap = 30
)

// Chunk splits text into windows of at most chunkSize whitespace tokens, each
// window starting chunkSize-overlap tokens after the previous one.
//
// Empty input yields nil. Text that fits in one window yields a single chunk.
// Overlap is clamped into [0, chunkSize-1]. Chunks re-join tokens with single spaces.
func Chunk(text string, chunkSize, overlap int) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	overlap = max(0, min(overlap, chunkSize-1))

	stride := chunkSize - overlap
	chunks := make([]string, 0, len(tokens)/stride+1)
	for start := 0; ; start += stride {
		end := min(start+chunkSize, len(tokens))
		chunks = append(chunks, strings.Join(tokens[start:end], " "))
		if end == len(tokens) {
			return chunks
		}
	}
}

// countTokens is the whitespace token count used for chunk bookkeeping.
func countTokens(s string) int { return len(strings.Fields(s)) }
