package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/academia-ai/tutor/internal/infra/llm"
)

// Difficulty levels offered to learners.
const (
	DifficultyBasic        = "Básico"
	DifficultyIntermediate = "Intermedio"
	DifficultyAdvanced     = "Avanzado"
)

const (
	MinQuestions = 1
	MaxQuestions = 10

	generateTemperature = 0.4
	generateMaxTokens   = 2048
)

// ErrNoValidQuestions is reported when neither attempt produced a usable question.
var ErrNoValidQuestions = errors.New("no valid questions generated")

// Question is one multiple-choice item. CorrectIndex always addresses Options.
type Question struct {
	Prompt       string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation,omitempty"`
}

type GeneratedTest struct {
	Topic      string     `json:"topic"`
	Difficulty string     `json:"difficulty"`
	Questions  []Question `json:"questions"`
	// Partial is set when fewer valid questions than requested could be produced.
	Partial  bool     `json:"partial,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type TestResult struct {
	Status Status         `json:"status"`
	Test   *GeneratedTest `json:"test,omitempty"`
	Error  string         `json:"error,omitempty"`
	Err    error          `json:"-"`
}

type testRequest struct {
	Topic        string `json:"topic" validate:"notblank,max=200"`
	NumQuestions int    `json:"num_questions" validate:"min=1,max=10"`
	Difficulty   string `json:"difficulty" validate:"oneof=Básico Intermedio Avanzado"`
}

// rawQuestion is a question as the model wrote it, before validation.
type rawQuestion struct {
	Prompt       string   `json:"question" validate:"notblank"`
	Options      []string `json:"options" validate:"min=2,max=6,dive,notblank"`
	CorrectIndex *int     `json:"correct_index" validate:"required"`
	Explanation  string   `json:"explanation"`
}

// GenerateTest asks the session's model for numQuestions multiple-choice
// questions about topic. Output that fails validation gets one corrective
// retry; after that the valid questions are returned flagged as partial.
func (t *Tutor) GenerateTest(ctx context.Context, sess *Session, topic string, numQuestions int, difficulty string) TestResult {
	req := testRequest{
		Topic:        strings.TrimSpace(topic),
		NumQuestions: numQuestions,
		Difficulty:   NormalizeDifficulty(difficulty),
	}
	if err := validate.Struct(req); err != nil {
		verr := &ValidationError{Violations: describeViolations("", err)}
		return TestResult{Status: StatusError, Error: "Solicitud de test no válida: " + strings.Join(verr.Violations, "; "), Err: verr}
	}

	p, model, err := t.provider(ctx, sess)
	if err != nil {
		return t.testFailure(sess, err)
	}

	prompt, err := render("test", struct {
		Topic        string
		Difficulty   string
		NumQuestions int
		Sources      any
	}{req.Topic, req.Difficulty, req.NumQuestions, t.retrieve(ctx, sess, req.Topic)})
	if err != nil {
		return t.testFailure(sess, err)
	}

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt()},
		{Role: llm.RoleUser, Content: prompt},
	}
	first, err := t.complete(ctx, p, model, msgs)
	if err != nil {
		return t.testFailure(sess, err)
	}
	valid, violations := parseQuestions(first, req.NumQuestions)
	if len(valid) == req.NumQuestions {
		return t.testSuccess(sess, req, valid, nil)
	}

	t.logger.Info("tutor: generated test failed validation, retrying",
		"session_id", sess.ID, "model", model, "valid", len(valid), "violations", len(violations))

	repair, err := render("test_repair", struct {
		Violations   []string
		NumQuestions int
	}{violations, req.NumQuestions})
	if err != nil {
		return t.testFailure(sess, err)
	}
	msgs = append(msgs,
		llm.Message{Role: llm.RoleAssistant, Content: first},
		llm.Message{Role: llm.RoleUser, Content: repair},
	)

	second, err := t.complete(ctx, p, model, msgs)
	if err != nil {
		t.logger.Warn("tutor: test repair call failed", "session_id", sess.ID, "error", err)
		violations = append(violations, "no se pudo corregir la respuesta: "+describeFailure(sess, err))
	} else {
		retried, retryViolations := parseQuestions(second, req.NumQuestions)
		if len(retried) == req.NumQuestions {
			return t.testSuccess(sess, req, retried, nil)
		}
		if len(retried) >= len(valid) {
			valid, violations = retried, retryViolations
		}
	}

	if len(valid) == 0 {
		verr := &ValidationError{Violations: violations}
		return TestResult{Status: StatusError, Error: "El modelo no generó ninguna pregunta válida.",
			Err: fmt.Errorf("%w: %w", ErrNoValidQuestions, verr)}
	}
	warnings := append([]string{
		fmt.Sprintf("Se generaron %d de %d preguntas válidas.", len(valid), req.NumQuestions),
	}, violations...)
	return t.testSuccess(sess, req, valid, warnings)
}

func (t *Tutor) complete(ctx context.Context, p llm.LLMProvider, model string, msgs []llm.Message) (string, error) {
	resp, err := p.ChatCompletion(ctx, llm.ChatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: generateTemperature,
		MaxTokens:   generateMaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (t *Tutor) testSuccess(sess *Session, req testRequest, qs []Question, warnings []string) TestResult {
	t.logger.Info("tutor: test generated", "session_id", sess.ID, "topic", req.Topic,
		"questions", len(qs), "partial", warnings != nil)
	return TestResult{
		Status: StatusSuccess,
		Test: &GeneratedTest{
			Topic:      req.Topic,
			Difficulty: req.Difficulty,
			Questions:  qs,
			Partial:    warnings != nil,
			Warnings:   warnings,
		},
	}
}

func (t *Tutor) testFailure(sess *Session, err error) TestResult {
	t.logger.Warn("tutor: test generation failed", "session_id", sess.ID, "error", err)
	return TestResult{Status: StatusError, Error: describeFailure(sess, err), Err: err}
}

// NormalizeDifficulty maps case and accent variants ("basico", "AVANZADO")
// onto the canonical level names. Unknown values are returned trimmed.
func NormalizeDifficulty(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "básico", "basico", "basic":
		return DifficultyBasic
	case "intermedio", "intermediate":
		return DifficultyIntermediate
	case "avanzado", "advanced":
		return DifficultyAdvanced
	}
	return s
}

// parseQuestions extracts and validates questions from a model reply. It
// returns at most want valid questions and one violation per broken rule. A
// shortfall against want is itself a violation.
func parseQuestions(content string, want int) ([]Question, []string) {
	payload := extractJSON(content)
	if payload == "" {
		return nil, []string{"la respuesta no contiene JSON"}
	}

	var items []json.RawMessage
	if strings.HasPrefix(payload, "[") {
		if err := json.Unmarshal([]byte(payload), &items); err != nil {
			return nil, []string{"JSON mal formado: " + err.Error()}
		}
	} else {
		var obj struct {
			Questions []json.RawMessage `json:"questions"`
		}
		if err := json.Unmarshal([]byte(payload), &obj); err != nil {
			return nil, []string{"JSON mal formado: " + err.Error()}
		}
		items = obj.Questions
	}

	var (
		valid      []Question
		violations []string
	)
	for i, item := range items {
		prefix := fmt.Sprintf("pregunta %d", i+1)
		var rq rawQuestion
		if err := json.Unmarshal(item, &rq); err != nil {
			violations = append(violations, prefix+": JSON mal formado")
			continue
		}
		if err := validate.Struct(rq); err != nil {
			violations = append(violations, describeViolations(prefix, err)...)
			continue
		}
		if len(valid) < want {
			valid = append(valid, Question{
				Prompt:       strings.TrimSpace(rq.Prompt),
				Options:      rq.Options,
				CorrectIndex: *rq.CorrectIndex,
				Explanation:  strings.TrimSpace(rq.Explanation),
			})
		}
	}
	if len(valid) < want {
		violations = append(violations, fmt.Sprintf("se pidieron %d preguntas válidas y se recibieron %d", want, len(valid)))
	}
	return valid, violations
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// extractJSON returns the JSON object or array embedded in s, with or without
// a markdown code fence around it, or "" when there is none.
func extractJSON(s string) string {
	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.TrimSpace(s)

	open, closer := strings.IndexByte(s, '{'), byte('}')
	if arr := strings.IndexByte(s, '['); arr >= 0 && (open < 0 || arr < open) {
		open, closer = arr, ']'
	}
	if open < 0 {
		return ""
	}
	end := strings.LastIndexByte(s, closer)
	if end <= open {
		return ""
	}
	return s[open : end+1]
}
