package tutor

import (
	"context"
	"fmt"
	"strings"

	"github.com/academia-ai/tutor/internal/infra/llm"
)

// AssignmentType selects the prompt used by CompleteAssignment.
type AssignmentType string

const (
	AssignmentEssay     AssignmentType = "essay"
	AssignmentReport    AssignmentType = "report"
	AssignmentSummary   AssignmentType = "summary"
	AssignmentExercises AssignmentType = "exercises"
)

// AssignmentTypes lists the supported types in display order.
var AssignmentTypes = []AssignmentType{AssignmentEssay, AssignmentReport, AssignmentSummary, AssignmentExercises}

func (a AssignmentType) valid() bool {
	for _, v := range AssignmentTypes {
		if a == v {
			return true
		}
	}
	return false
}

const (
	writingTemperature = 0.7
	writingMaxTokens   = 2048
)

type AssignmentResult struct {
	Status Status `json:"status"`
	Work   string `json:"work,omitempty"`
	Error  string `json:"error,omitempty"`
	Err    error  `json:"-"`
}

// CompleteAssignment drafts the work described by description.
func (t *Tutor) CompleteAssignment(ctx context.Context, sess *Session, description string, assignmentType AssignmentType) AssignmentResult {
	description, err := requireText("la descripción", description)
	if err != nil {
		return AssignmentResult{Status: StatusError, Error: "La descripción del trabajo está vacía.", Err: err}
	}
	if !assignmentType.valid() {
		err := &ValidationError{Violations: []string{fmt.Sprintf("tipo de trabajo desconocido %q", assignmentType)}}
		return AssignmentResult{Status: StatusError, Error: "Tipo de trabajo no válido: " + string(assignmentType), Err: err}
	}

	prompt, err := render("assignment_"+string(assignmentType), struct{ Description string }{description})
	if err != nil {
		return t.writingFailure(sess, "assignment", err)
	}
	work, err := t.write(ctx, sess, prompt)
	if err != nil {
		return t.writingFailure(sess, "assignment", err)
	}
	t.logger.Info("tutor: assignment completed", "session_id", sess.ID, "type", assignmentType)
	return AssignmentResult{Status: StatusSuccess, Work: work}
}

// ImproveText rewrites text with corrected spelling, grammar and clarity.
func (t *Tutor) ImproveText(ctx context.Context, sess *Session, text string) AssignmentResult {
	text, err := requireText("el texto", text)
	if err != nil {
		return AssignmentResult{Status: StatusError, Error: "No hay texto que mejorar.", Err: err}
	}
	prompt, err := render("improve", struct{ Text string }{text})
	if err != nil {
		return t.writingFailure(sess, "improve", err)
	}
	work, err := t.write(ctx, sess, prompt)
	if err != nil {
		return t.writingFailure(sess, "improve", err)
	}
	return AssignmentResult{Status: StatusSuccess, Work: work}
}

func (t *Tutor) write(ctx context.Context, sess *Session, prompt string) (string, error) {
	p, model, err := t.provider(ctx, sess)
	if err != nil {
		return "", err
	}
	resp, err := p.ChatCompletion(ctx, llm.ChatRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt()},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: writingTemperature,
		MaxTokens:   writingMaxTokens,
	})
	if err != nil {
		return "", err
	}
	work := strings.TrimSpace(resp.Content)
	if work == "" {
		return "", ErrEmptyCompletion
	}
	return work, nil
}

func (t *Tutor) writingFailure(sess *Session, op string, err error) AssignmentResult {
	t.logger.Warn("tutor: writing failed", "session_id", sess.ID, "op", op, "error", err)
	return AssignmentResult{Status: StatusError, Error: describeFailure(sess, err), Err: err}
}
