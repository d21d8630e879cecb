package tutor

import (
	"context"
	"errors"
	"strings"

	"github.com/academia-ai/tutor/internal/domain/knowledge"
	"github.com/academia-ai/tutor/internal/infra/llm"
)

const (
	answerTemperature = 0.2
	answerMaxTokens   = 1024
)

// Source identifies a chunk the answer was grounded on.
type Source struct {
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"file_name"`
	Position   int     `json:"position"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

type AnswerResult struct {
	Status  Status   `json:"status"`
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources,omitempty"`
	Err     error    `json:"-"`
}

// Stream event types.
const (
	EventSources = "sources"
	EventToken   = "token"
	EventDone    = "done"
	EventError   = "error"
)

// StreamEvent is one frame of a streamed answer. A stream ends with exactly one
// done or error event.
type StreamEvent struct {
	Type    string   `json:"type"`
	Delta   string   `json:"delta,omitempty"`
	Sources []Source `json:"sources,omitempty"`
	Answer  string   `json:"answer,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// AnswerQuestion answers from the session's knowledge and recent history. A
// successful call appends the question and the answer to the history; any
// failure leaves it untouched and is reported in the result.
func (t *Tutor) AnswerQuestion(ctx context.Context, sess *Session, question string) AnswerResult {
	question, err := requireText("la pregunta", question)
	if err != nil {
		return AnswerResult{Status: StatusError, Answer: "La pregunta está vacía.", Err: err}
	}

	p, model, err := t.provider(ctx, sess)
	if err != nil {
		return t.answerFailure(sess, err)
	}

	chunks := t.retrieve(ctx, sess, question)
	msgs, err := t.answerMessages(sess, question, chunks)
	if err != nil {
		return t.answerFailure(sess, err)
	}

	resp, err := p.ChatCompletion(ctx, llm.ChatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: answerTemperature,
		MaxTokens:   answerMaxTokens,
	})
	if err != nil {
		return t.answerFailure(sess, err)
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return t.answerFailure(sess, ErrEmptyCompletion)
	}
	if err := t.sessions.Append(ctx, sess,
		llm.Message{Role: llm.RoleUser, Content: question},
		llm.Message{Role: llm.RoleAssistant, Content: answer},
	); err != nil {
		return t.answerFailure(sess, err)
	}

	t.logger.Info("tutor: question answered", "session_id", sess.ID, "model", model, "sources", len(chunks), "tokens", resp.Tokens)
	return AnswerResult{Status: StatusSuccess, Answer: answer, Sources: toSources(chunks)}
}

// AnswerQuestionStream is AnswerQuestion delivered as it is generated. The
// history is appended once the provider finishes without error. The channel is
// closed after the final event.
func (t *Tutor) AnswerQuestionStream(ctx context.Context, sess *Session, question string) <-chan StreamEvent {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		send := func(ev StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			t.logger.Warn("tutor: streamed answer failed", "session_id", sess.ID, "error", err)
			send(StreamEvent{Type: EventError, Error: describeFailure(sess, err)})
		}

		question, err := requireText("la pregunta", question)
		if err != nil {
			send(StreamEvent{Type: EventError, Error: "La pregunta está vacía."})
			return
		}
		p, model, err := t.provider(ctx, sess)
		if err != nil {
			fail(err)
			return
		}
		chunks := t.retrieve(ctx, sess, question)
		msgs, err := t.answerMessages(sess, question, chunks)
		if err != nil {
			fail(err)
			return
		}
		stream, err := p.ChatCompletionStream(ctx, llm.ChatRequest{
			Model:       model,
			Messages:    msgs,
			Temperature: answerTemperature,
			MaxTokens:   answerMaxTokens,
		})
		if err != nil {
			fail(err)
			return
		}
		if !send(StreamEvent{Type: EventSources, Sources: toSources(chunks)}) {
			return
		}

		var b strings.Builder
		for chunk := range stream {
			if chunk.Err != nil {
				fail(chunk.Err)
				return
			}
			b.WriteString(chunk.Delta)
			if !send(StreamEvent{Type: EventToken, Delta: chunk.Delta}) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		answer := strings.TrimSpace(b.String())
		if answer == "" {
			fail(ErrEmptyCompletion)
			return
		}
		if err := t.sessions.Append(ctx, sess,
			llm.Message{Role: llm.RoleUser, Content: question},
			llm.Message{Role: llm.RoleAssistant, Content: answer},
		); err != nil {
			fail(err)
			return
		}
		send(StreamEvent{Type: EventDone, Answer: answer})
	}()
	return out
}

// ErrEmptyCompletion is reported when the provider answers with no text.
var ErrEmptyCompletion = errors.New("el proveedor devolvió una respuesta vacía")

func (t *Tutor) answerMessages(sess *Session, question string, chunks []knowledge.KnowledgeChunk) ([]llm.Message, error) {
	prompt, err := render("answer", struct {
		Question string
		Sources  []knowledge.KnowledgeChunk
	}{question, chunks})
	if err != nil {
		return nil, err
	}

	past := windowHistory(sess.History(), t.cfg.HistoryWindow, t.cfg.HistoryBudget, t.cfg.Tokens)
	msgs := make([]llm.Message, 0, len(past)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt()})
	msgs = append(msgs, past...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: prompt})
	return msgs, nil
}

func (t *Tutor) answerFailure(sess *Session, err error) AnswerResult {
	t.logger.Warn("tutor: answer failed", "session_id", sess.ID, "error", err)
	return AnswerResult{Status: StatusError, Answer: describeFailure(sess, err), Err: err}
}

func toSources(chunks []knowledge.KnowledgeChunk) []Source {
	if len(chunks) == 0 {
		return nil
	}
	out := make([]Source, len(chunks))
	for i, c := range chunks {
		out[i] = Source{
			DocumentID: c.DocumentID,
			FileName:   c.FileName,
			Position:   c.Position,
			Score:      c.Score,
			Snippet:    snippet(c.Text, 240),
		}
	}
	return out
}

func snippet(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "…"
}
