package tutor

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/academia-ai/tutor/internal/infra/llm"
)

// DefaultHistoryBudget caps the tokens spent on past turns in one prompt.
const DefaultHistoryBudget = 2000

// perMessageOverhead approximates role and separator tokens per chat message.
const perMessageOverhead = 4

// TokenCounter estimates how many model tokens a text costs.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter returns a cl100k_base counter. Loading the encoding may
// touch the network the first time; callers fall back to WhitespaceCounter
// when it fails.
func NewTiktokenCounter() (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return tiktokenCounter{enc: enc}, nil
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// WhitespaceCounter counts whitespace-separated words.
type WhitespaceCounter struct{}

func (WhitespaceCounter) Count(text string) int { return len(strings.Fields(text)) }

// windowHistory keeps the newest messages that fit both maxMessages and budget.
// The result never starts with an assistant turn.
func windowHistory(history []llm.Message, maxMessages, budget int, counter TokenCounter) []llm.Message {
	if maxMessages <= 0 || len(history) == 0 {
		return nil
	}
	start := len(history)
	spent := 0
	for i := len(history) - 1; i >= 0 && len(history)-i <= maxMessages; i-- {
		cost := counter.Count(history[i].Content) + perMessageOverhead
		if budget > 0 && spent+cost > budget {
			break
		}
		spent += cost
		start = i
	}
	for start < len(history) && history[start].Role == llm.RoleAssistant {
		start++
	}
	out := make([]llm.Message, len(history)-start)
	copy(out, history[start:])
	return out
}
