// Package a2aagent publishes the tutor as an Agent2Agent agent. Incoming text
// messages are answered from the caller's session knowledge.
package a2aagent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"github.com/academia-ai/tutor/internal/api/ctxkeys"
	"github.com/academia-ai/tutor/internal/domain/tutor"
)

// CardPath is where the agent card is served.
const CardPath = a2asrv.WellKnownAgentCardPath

// contextSessionPrefix namespaces sessions derived from an A2A context id.
const contextSessionPrefix = "a2a-"

// Answerer is the part of the tutor the agent uses.
type Answerer interface {
	Session(ctx context.Context, id string) (*tutor.Session, error)
	AnswerQuestion(ctx context.Context, sess *tutor.Session, question string) tutor.AnswerResult
}

type Options struct {
	// URL is the public JSON-RPC endpoint advertised in the card.
	URL     string
	Version string
	Logger  *slog.Logger
}

// Agent answers A2A messages with the tutor.
type Agent struct {
	tutor  Answerer
	card   *a2a.AgentCard
	logger *slog.Logger
}

func New(t Answerer, opts Options) *Agent {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Agent{tutor: t, card: newCard(opts), logger: opts.Logger}
}

func newCard(opts Options) *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:               "Tutor",
		Description:        "Tutor académico que responde preguntas a partir de los apuntes del estudiante.",
		URL:                opts.URL,
		Version:            opts.Version,
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Capabilities:       a2a.AgentCapabilities{},
		Skills: []a2a.AgentSkill{{
			ID:          "answer_question",
			Name:        "Responder preguntas",
			Description: "Responde dudas de estudio usando los documentos subidos a la sesión.",
			Tags:        []string{"education", "rag"},
			Examples:    []string{"¿Qué es la fotosíntesis?"},
		}},
	}
}

// JSONRPCHandler serves the A2A JSON-RPC protocol.
func (a *Agent) JSONRPCHandler() http.Handler {
	return a2asrv.NewJSONRPCHandler(a2asrv.NewHandler(a))
}

// CardHandler serves the agent card.
func (a *Agent) CardHandler() http.Handler {
	return a2asrv.NewStaticAgentCardHandler(a.card)
}

// Execute implements a2asrv.AgentExecutor.
func (a *Agent) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, q eventqueue.Queue) error {
	reply := a.respond(ctx, sessionFor(ctx, reqCtx.ContextID), reqCtx.Message)
	reply.ContextID = reqCtx.ContextID
	return q.Write(ctx, reply)
}

// Cancel implements a2asrv.AgentExecutor. Answers complete in one step and
// cannot be canceled.
func (a *Agent) Cancel(context.Context, *a2asrv.RequestContext, eventqueue.Queue) error {
	return errors.New("answers cannot be canceled")
}

// respond answers the text of msg in sessionID. Failures become agent
// messages carrying the learner-facing explanation.
func (a *Agent) respond(ctx context.Context, sessionID string, msg *a2a.Message) *a2a.Message {
	question := messageText(msg)
	sess, err := a.tutor.Session(ctx, sessionID)
	if err != nil {
		a.logger.Error("a2a: session unavailable", "session_id", sessionID, "error", err)
		return a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "La sesión no está disponible en este momento."})
	}
	res := a.tutor.AnswerQuestion(ctx, sess, question)
	a.logger.Info("a2a: message answered", "session_id", sess.ID, "status", res.Status)
	return a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: res.Answer})
}

// sessionFor prefers the session of an authenticated caller and falls back
// to one derived from the A2A context id.
func sessionFor(ctx context.Context, contextID string) string {
	if id, err := ctxkeys.SessionIDFrom(ctx); err == nil {
		return id
	}
	if contextID == "" {
		return ""
	}
	return contextSessionPrefix + contextID
}

func messageText(msg *a2a.Message) string {
	if msg == nil {
		return ""
	}
	var parts []string
	for _, p := range msg.Parts {
		if tp, ok := p.(a2a.TextPart); ok {
			parts = append(parts, tp.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
