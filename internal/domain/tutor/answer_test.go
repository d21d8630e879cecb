package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/academia-ai/tutor/internal/domain/knowledge"
	"github.com/academia-ai/tutor/internal/infra/llm"
)

// ============================================================================
// AnswerQuestion
// ============================================================================

func TestAnswerQuestion_GrowsHistoryByTwoPerCall(t *testing.T) {
	t.Parallel()
	f := newFixture(t, allKeys())
	sess := f.session(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res := f.tutor.AnswerQuestion(ctx, sess, fmt.Sprintf("pregunta %d", i))
		if res.Status != StatusSuccess {
			t.Fatalf("call %d: status = %s (%s)", i, res.Status, res.Answer)
		}
		if got := len(sess.History()); got != 2*i {
			t.Fatalf("after call %d history = %d, want %d", i, got, 2*i)
		}
	}

	h := sess.History()
	if h[4].Role != llm.RoleUser || h[4].Content != "pregunta 3" {
		t.Errorf("history[4] = %+v", h[4])
	}
	if h[5].Role != llm.RoleAssistant {
		t.Errorf("history[5].Role = %s, want assistant", h[5].Role)
	}
}

func TestAnswerQuestion_GroundsOnIngestedDocument(t *testing.T) {
	t.Parallel()
	f := newFixture(t, allKeys())
	sess := f.session(t)
	ctx := context.Background()

	doc := "La fotosíntesis convierte la luz solar en energía química dentro de los cloroplastos."
	if r := f.tutor.IngestBytes(ctx, sess, "biologia.txt", []byte(doc)); !r.OK() {
		t.Fatalf("ingest: %s", r.Error)
	}

	res := f.tutor.AnswerQuestion(ctx, sess, "¿Dónde ocurre la fotosíntesis?")
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s (%s)", res.Status, res.Answer)
	}
	if len(res.Sources) == 0 || res.Sources[0].FileName != "biologia.txt" {
		t.Fatalf("sources = %+v, want biologia.txt first", res.Sources)
	}

	req := f.active().lastRequest()
	if req.Messages[0].Role != llm.RoleSystem {
		t.Errorf("first message role = %s, want system", req.Messages[0].Role)
	}
	prompt := lastUserContent(req)
	if !strings.Contains(prompt, "cloroplastos") || !strings.Contains(prompt, "[1]") {
		t.Errorf("prompt does not carry numbered context:\n%s", prompt)
	}
}

func TestAnswerQuestion_SendsRecentHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t, allKeys())
	sess := f.session(t)
	ctx := context.Background()

	f.tutor.AnswerQuestion(ctx, sess, "primera")
	f.tutor.AnswerQuestion(ctx, sess, "segunda")

	req := f.active().lastRequest()
	// system + 2 past messages + current prompt
	if len(req.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(req.Messages))
	}
	if req.Messages[1].Content != "primera" || req.Messages[2].Role != llm.RoleAssistant {
		t.Errorf("history not forwarded: %+v", req.Messages[1:3])
	}
	if req.Model != llm.DefaultCatalog().DefaultModel {
		t.Errorf("request model = %q", req.Model)
	}
}

func TestAnswerQuestion_ProviderErrorLeavesHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t, allKeys())
	sess := f.session(t)
	ctx := context.Background()

	f.tutor.AnswerQuestion(ctx, sess, "antes")
	f.active().err = fmt.Errorf("%w: connection refused", llm.ErrTransport)

	res := f.tutor.AnswerQuestion(ctx, sess, "durante la caída")
	if res.Status != StatusError {
		t.Fatalf("status = %s, want error", res.Status)
	}
	if !errors.Is(res.Err, llm.ErrTransport) {
		t.Errorf("Err = %v, want ErrTransport", res.Err)
	}
	if got := len(sess.History()); got != 2 {
		t.Errorf("history = %d, want 2", got)
	}
}

func TestAnswerQuestion_MissingCredentialGuidesToOtherProvider(t *testing.T) {
	t.Parallel()
	f := newFixture(t, llm.StaticCredentials{})
	sess := f.session(t)

	res := f.tutor.AnswerQuestion(context.Background(), sess, "hola")
	if res.Status != StatusError {
		t.Fatalf("status = %s, want error", res.Status)
	}
	if !errors.Is(res.Err, llm.ErrAuthentication) {
		t.Errorf("Err = %v, want ErrAuthentication", res.Err)
	}
	if !strings.Contains(res.Answer, "Ollama") {
		t.Errorf("answer lacks guidance: %q", res.Answer)
	}
	if len(sess.History()) != 0 {
		t.Errorf("history mutated: %+v", sess.History())
	}
	if f.active().calls() != 0 {
		t.Errorf("provider called %d times", f.active().calls())
	}

	// Ollama needs no key: switching recovers.
	if err := f.tutor.SetModel(context.Background(), sess, "ollama", "llama3.2"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	if res := f.tutor.AnswerQuestion(context.Background(), sess, "hola"); res.Status != StatusSuccess {
		t.Errorf("after switch status = %s (%s)", res.Status, res.Answer)
	}
}

func TestAnswerQuestion_EmptyQuestion(t *testing.T) {
	t.Parallel()
	f := newFixture(t, allKeys())
	sess := f.session(t)

	res := f.tutor.AnswerQuestion(context.Background(), sess, "   ")
	if res.Status != StatusError || !errors.Is(res.Err, ErrValidation) {
		t.Fatalf("res = %+v, want validation error", res)
	}
	if f.active().calls() != 0 {
		t.Error("provider should not be called for an empty question")
	}
}

func TestAnswerQuestion_ConcurrentCallsKeepPairsTogether(t *testing.T) {
	t.Parallel()
	f := newFixture(t, allKeys())
	sess := f.session(t)
	f.active().reply = func(req llm.ChatRequest) string { return "R:" + askedQuestion(req) }

	const n = 8
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.tutor.AnswerQuestion(context.Background(), sess, fmt.Sprintf("q%d", i))
		}()
	}
	wg.Wait()

	h := sess.History()
	if len(h) != 2*n {
		t.Fatalf("history = %d, want %d", len(h), 2*n)
	}
	for i := 0; i < len(h); i += 2 {
		if h[i].Role != llm.RoleUser || h[i+1].Role != llm.RoleAssistant {
			t.Fatalf("pair %d out of order: %+v %+v", i/2, h[i], h[i+1])
		}
		if h[i+1].Content != "R:"+h[i].Content {
			t.Errorf("pair %d mismatched: %q / %q", i/2, h[i].Content, h[i+1].Content)
		}
	}
}

// ============================================================================
// AnswerQuestionStream
// ============================================================================

func collect(ch <-chan StreamEvent) []StreamEvent {
	var out []StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestAnswerQuestionStream_DeliversFragmentsThenDone(t *testing.T) {
	t.Parallel()
	f := newFixture(t, allKeys())
	sess := f.session(t)
	f.active().stream = []string{"La ", "respuesta ", "es 4."}

	events := collect(f.tutor.AnswerQuestionStream(context.Background(), sess, "¿2+2?"))
	if len(events) != 5 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Type != EventSources {
		t.Errorf("first event = %s, want sources", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != EventDone || last.Answer != "La respuesta es 4." {
		t.Errorf("last event = %+v", last)
	}
	if got := len(sess.History()); got != 2 {
		t.Errorf("history = %d, want 2", got)
	}
}

func TestAnswerQuestionStream_ErrorMidStreamKeepsHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t, allKeys())
	sess := f.session(t)
	f.active().stream = []string{"parcial"}
	f.active().streamErr = fmt.Errorf("%w: reset by peer", llm.ErrTransport)

	events := collect(f.tutor.AnswerQuestionStream(context.Background(), sess, "pregunta"))
	last := events[len(events)-1]
	if last.Type != EventError || last.Error == "" {
		t.Fatalf("last event = %+v, want error", last)
	}
	if len(sess.History()) != 0 {
		t.Errorf("history mutated on failed stream")
	}
}

func TestAnswerQuestionStream_MissingCredential(t *testing.T) {
	t.Parallel()
	f := newFixture(t, llm.StaticCredentials{})
	sess := f.session(t)

	events := collect(f.tutor.AnswerQuestionStream(context.Background(), sess, "hola"))
	if len(events) != 1 || events[0].Type != EventError || !strings.Contains(events[0].Error, "Ollama") {
		t.Fatalf("events = %+v", events)
	}
}

// ============================================================================
// Sources
// ============================================================================

func TestToSources_TruncatesSnippet(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("á", 300)
	got := toSources([]knowledge.KnowledgeChunk{{DocumentID: "d", FileName: "f.txt", Text: long}})
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	if r := []rune(got[0].Snippet); len(r) != 241 || r[240] != '…' {
		t.Errorf("snippet runes = %d", len(r))
	}
	if toSources(nil) != nil {
		t.Error("nil chunks should give nil sources")
	}
}
