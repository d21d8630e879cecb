package handlers

import (
	"context"
	"net/http"

	"github.com/academia-ai/tutor/internal/domain/tutor"
	"github.com/academia-ai/tutor/internal/infra/llm"
)

// TutorService is the façade surface the HTTP API exposes.
type TutorService interface {
	SessionSource
	Catalog() *llm.Catalog
	SetModel(ctx context.Context, sess *tutor.Session, providerID, model string) error
	ResetHistory(ctx context.Context, sess *tutor.Session) error
	AnswerQuestion(ctx context.Context, sess *tutor.Session, question string) tutor.AnswerResult
	AnswerQuestionStream(ctx context.Context, sess *tutor.Session, question string) <-chan tutor.StreamEvent
	GenerateTest(ctx context.Context, sess *tutor.Session, topic string, numQuestions int, difficulty string) tutor.TestResult
	CompleteAssignment(ctx context.Context, sess *tutor.Session, description string, assignmentType tutor.AssignmentType) tutor.AssignmentResult
	ImproveText(ctx context.Context, sess *tutor.Session, text string) tutor.AssignmentResult
}

type TutorHandler struct {
	tutor TutorService
}

func NewTutorHandler(svc TutorService) *TutorHandler {
	return &TutorHandler{tutor: svc}
}

type targetBody struct {
	Provider string `json:"provider" validate:"required"`
	Model    string `json:"model" validate:"required"`
}

type catalogResponse struct {
	Catalog *llm.Catalog `json:"catalog"`
	Current targetBody   `json:"current"`
}

type questionRequest struct {
	Question string `json:"question" validate:"notblank"`
}

type testRequest struct {
	Topic        string `json:"topic" validate:"notblank,max=200"`
	NumQuestions int    `json:"num_questions" validate:"min=1,max=10"`
	Difficulty   string `json:"difficulty"` // normalized by the tutor
}

type assignmentRequest struct {
	Description string               `json:"description" validate:"notblank"`
	Type        tutor.AssignmentType `json:"type" validate:"oneof=essay report summary exercises"`
}

type improveRequest struct {
	Text string `json:"text" validate:"notblank"`
}

type historyResponse struct {
	SessionID string        `json:"session_id"`
	Messages  []llm.Message `json:"messages"`
}

// Catalog handles GET /api/v1/tutor/catalog.
func (h *TutorHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	sess := callerSession(w, r, h.tutor)
	if sess == nil {
		return
	}
	provider, model := sess.Target()
	writeJSON(w, http.StatusOK, catalogResponse{
		Catalog: h.tutor.Catalog(),
		Current: targetBody{Provider: provider, Model: model},
	})
}

// SetModel handles PUT /api/v1/tutor/model.
//
// Response codes:
//   - 200 OK: the session now targets the pair
//   - 400 Bad Request: missing, unknown provider or model; the previous target is kept
func (h *TutorHandler) SetModel(w http.ResponseWriter, r *http.Request) {
	sess := callerSession(w, r, h.tutor)
	if sess == nil {
		return
	}
	var req targetBody
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := h.tutor.SetModel(r.Context(), sess, req.Provider, req.Model); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	provider, model := sess.Target()
	writeJSON(w, http.StatusOK, targetBody{Provider: provider, Model: model})
}

// Ask handles POST /api/v1/tutor/questions.
func (h *TutorHandler) Ask(w http.ResponseWriter, r *http.Request) {
	sess := callerSession(w, r, h.tutor)
	if sess == nil {
		return
	}
	var req questionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	res := h.tutor.AnswerQuestion(r.Context(), sess, req.Question)
	writeJSON(w, statusFor(res.Err), res)
}

// GenerateTest handles POST /api/v1/tutor/tests.
func (h *TutorHandler) GenerateTest(w http.ResponseWriter, r *http.Request) {
	sess := callerSession(w, r, h.tutor)
	if sess == nil {
		return
	}
	var req testRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	res := h.tutor.GenerateTest(r.Context(), sess, req.Topic, req.NumQuestions, req.Difficulty)
	writeJSON(w, statusFor(res.Err), res)
}

// CompleteAssignment handles POST /api/v1/tutor/assignments.
func (h *TutorHandler) CompleteAssignment(w http.ResponseWriter, r *http.Request) {
	sess := callerSession(w, r, h.tutor)
	if sess == nil {
		return
	}
	var req assignmentRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	res := h.tutor.CompleteAssignment(r.Context(), sess, req.Description, req.Type)
	writeJSON(w, statusFor(res.Err), res)
}

// Improve handles POST /api/v1/tutor/improve.
func (h *TutorHandler) Improve(w http.ResponseWriter, r *http.Request) {
	sess := callerSession(w, r, h.tutor)
	if sess == nil {
		return
	}
	var req improveRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	res := h.tutor.ImproveText(r.Context(), sess, req.Text)
	writeJSON(w, statusFor(res.Err), res)
}

// History handles GET /api/v1/tutor/history.
func (h *TutorHandler) History(w http.ResponseWriter, r *http.Request) {
	sess := callerSession(w, r, h.tutor)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: sess.ID, Messages: sess.History()})
}

// ResetHistory handles DELETE /api/v1/tutor/history.
func (h *TutorHandler) ResetHistory(w http.ResponseWriter, r *http.Request) {
	sess := callerSession(w, r, h.tutor)
	if sess == nil {
		return
	}
	if err := h.tutor.ResetHistory(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
