// Package mcpserver exposes the tutor as Model Context Protocol tools so
// desktop assistants can ask questions, upload notes and generate tests.
package mcpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/academia-ai/tutor/internal/domain/knowledge"
	"github.com/academia-ai/tutor/internal/domain/tutor"
	"github.com/academia-ai/tutor/internal/infra/llm"
)

// DefaultSessionID is used by tool calls that name no session.
const DefaultSessionID = "mcp"

// Tutor is the façade surface the tools call.
type Tutor interface {
	Session(ctx context.Context, id string) (*tutor.Session, error)
	Catalog() *llm.Catalog
	SetModel(ctx context.Context, sess *tutor.Session, providerID, model string) error
	AnswerQuestion(ctx context.Context, sess *tutor.Session, question string) tutor.AnswerResult
	IngestBytes(ctx context.Context, sess *tutor.Session, fileName string, data []byte) knowledge.IngestResult
	GenerateTest(ctx context.Context, sess *tutor.Session, topic string, numQuestions int, difficulty string) tutor.TestResult
	CompleteAssignment(ctx context.Context, sess *tutor.Session, description string, assignmentType tutor.AssignmentType) tutor.AssignmentResult
	ImproveText(ctx context.Context, sess *tutor.Session, text string) tutor.AssignmentResult
}

type Options struct {
	Name      string
	Version   string
	SessionID string // default DefaultSessionID
	Logger    *slog.Logger
}

type toolset struct {
	tutor          Tutor
	defaultSession string
	logger         *slog.Logger
}

// New builds an MCP server with every tutor tool registered.
func New(t Tutor, opts Options) *mcp.Server {
	if opts.Name == "" {
		opts.Name = "tutor"
	}
	if opts.SessionID == "" {
		opts.SessionID = DefaultSessionID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ts := &toolset{tutor: t, defaultSession: opts.SessionID, logger: opts.Logger}

	server := mcp.NewServer(&mcp.Implementation{Name: opts.Name, Version: opts.Version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "answer_question",
		Description: "Answer a student question grounded on the documents uploaded to the session.",
	}, ts.answerQuestion)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_document",
		Description: "Add a PDF, DOCX, TXT or Markdown document (base64 encoded) to the session's knowledge.",
	}, ts.ingestDocument)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate_test",
		Description: "Generate a multiple-choice test (1-10 questions) about a topic.",
	}, ts.generateTest)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "complete_assignment",
		Description: "Draft an essay, report, summary or exercise set from a description.",
	}, ts.completeAssignment)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "improve_text",
		Description: "Correct spelling, grammar and clarity of a text.",
	}, ts.improveText)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_models",
		Description: "List the selectable providers and models and the session's current choice.",
	}, ts.listModels)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_model",
		Description: "Select the provider and model used by the session.",
	}, ts.setModel)
	return server
}

// Run serves tools over stdin/stdout until ctx ends or the client disconnects.
func Run(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

func (ts *toolset) session(ctx context.Context, id string) (*tutor.Session, error) {
	if id == "" {
		id = ts.defaultSession
	}
	sess, err := ts.tutor.Session(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session unavailable: %w", err)
	}
	return sess, nil
}

// ===== TOOLS =====

type answerInput struct {
	Question  string `json:"question" jsonschema:"the student's question"`
	SessionID string `json:"session_id,omitempty" jsonschema:"tutor session; defaults to the server session"`
}

type answerOutput struct {
	Answer  string         `json:"answer"`
	Sources []tutor.Source `json:"sources"`
}

func (ts *toolset) answerQuestion(ctx context.Context, _ *mcp.CallToolRequest, in answerInput) (*mcp.CallToolResult, answerOutput, error) {
	sess, err := ts.session(ctx, in.SessionID)
	if err != nil {
		return nil, answerOutput{}, err
	}
	res := ts.tutor.AnswerQuestion(ctx, sess, in.Question)
	if res.Status != tutor.StatusSuccess {
		return nil, answerOutput{}, errors.New(res.Answer)
	}
	sources := res.Sources
	if sources == nil {
		sources = []tutor.Source{}
	}
	return nil, answerOutput{Answer: res.Answer, Sources: sources}, nil
}

type ingestInput struct {
	FileName      string `json:"file_name" jsonschema:"file name with extension, e.g. tema1.pdf"`
	ContentBase64 string `json:"content_base64" jsonschema:"file content, standard base64"`
	SessionID     string `json:"session_id,omitempty" jsonschema:"tutor session; defaults to the server session"`
}

type ingestOutput struct {
	DocumentID string `json:"document_id"`
	FileName   string `json:"file_name"`
	ChunkCount int    `json:"chunk_count"`
}

func (ts *toolset) ingestDocument(ctx context.Context, _ *mcp.CallToolRequest, in ingestInput) (*mcp.CallToolResult, ingestOutput, error) {
	data, err := base64.StdEncoding.DecodeString(in.ContentBase64)
	if err != nil {
		return nil, ingestOutput{}, fmt.Errorf("content_base64 is not valid base64: %w", err)
	}
	sess, err := ts.session(ctx, in.SessionID)
	if err != nil {
		return nil, ingestOutput{}, err
	}
	res := ts.tutor.IngestBytes(ctx, sess, in.FileName, data)
	if !res.OK() {
		return nil, ingestOutput{}, fmt.Errorf("%s: %s", in.FileName, res.Error)
	}
	ts.logger.Info("mcp: document ingested", "session_id", sess.ID, "document_id", res.DocumentID)
	return nil, ingestOutput{DocumentID: res.DocumentID, FileName: res.FileName, ChunkCount: res.ChunkCount}, nil
}

type testInput struct {
	Topic        string `json:"topic" jsonschema:"subject of the test"`
	NumQuestions int    `json:"num_questions" jsonschema:"number of questions, 1 to 10"`
	Difficulty   string `json:"difficulty,omitempty" jsonschema:"Básico, Intermedio or Avanzado; default Básico"`
	SessionID    string `json:"session_id,omitempty" jsonschema:"tutor session; defaults to the server session"`
}

func (ts *toolset) generateTest(ctx context.Context, _ *mcp.CallToolRequest, in testInput) (*mcp.CallToolResult, tutor.GeneratedTest, error) {
	sess, err := ts.session(ctx, in.SessionID)
	if err != nil {
		return nil, tutor.GeneratedTest{}, err
	}
	difficulty := in.Difficulty
	if difficulty == "" {
		difficulty = tutor.DifficultyBasic
	}
	res := ts.tutor.GenerateTest(ctx, sess, in.Topic, in.NumQuestions, difficulty)
	if res.Status != tutor.StatusSuccess {
		return nil, tutor.GeneratedTest{}, errors.New(res.Error)
	}
	return nil, *res.Test, nil
}

type assignmentInput struct {
	Description string `json:"description" jsonschema:"what the assignment asks for"`
	Type        string `json:"type" jsonschema:"essay, report, summary or exercises"`
	SessionID   string `json:"session_id,omitempty" jsonschema:"tutor session; defaults to the server session"`
}

type workOutput struct {
	Work string `json:"work"`
}

func (ts *toolset) completeAssignment(ctx context.Context, _ *mcp.CallToolRequest, in assignmentInput) (*mcp.CallToolResult, workOutput, error) {
	sess, err := ts.session(ctx, in.SessionID)
	if err != nil {
		return nil, workOutput{}, err
	}
	res := ts.tutor.CompleteAssignment(ctx, sess, in.Description, tutor.AssignmentType(in.Type))
	if res.Status != tutor.StatusSuccess {
		return nil, workOutput{}, errors.New(res.Error)
	}
	return nil, workOutput{Work: res.Work}, nil
}

type improveInput struct {
	Text      string `json:"text" jsonschema:"text to correct"`
	SessionID string `json:"session_id,omitempty" jsonschema:"tutor session; defaults to the server session"`
}

func (ts *toolset) improveText(ctx context.Context, _ *mcp.CallToolRequest, in improveInput) (*mcp.CallToolResult, workOutput, error) {
	sess, err := ts.session(ctx, in.SessionID)
	if err != nil {
		return nil, workOutput{}, err
	}
	res := ts.tutor.ImproveText(ctx, sess, in.Text)
	if res.Status != tutor.StatusSuccess {
		return nil, workOutput{}, errors.New(res.Error)
	}
	return nil, workOutput{Work: res.Work}, nil
}

type sessionInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"tutor session; defaults to the server session"`
}

type modelEntry struct {
	Provider string   `json:"provider"`
	Name     string   `json:"name"`
	Models   []string `json:"models"`
}

type modelsOutput struct {
	Providers       []modelEntry `json:"providers"`
	CurrentProvider string       `json:"current_provider"`
	CurrentModel    string       `json:"current_model"`
}

func (ts *toolset) listModels(ctx context.Context, _ *mcp.CallToolRequest, in sessionInput) (*mcp.CallToolResult, modelsOutput, error) {
	sess, err := ts.session(ctx, in.SessionID)
	if err != nil {
		return nil, modelsOutput{}, err
	}
	out := modelsOutput{Providers: []modelEntry{}}
	for _, p := range ts.tutor.Catalog().Providers {
		out.Providers = append(out.Providers, modelEntry{Provider: p.ID, Name: p.Name, Models: p.Models})
	}
	out.CurrentProvider, out.CurrentModel = sess.Target()
	return nil, out, nil
}

type setModelInput struct {
	Provider  string `json:"provider" jsonschema:"provider id from list_models"`
	Model     string `json:"model" jsonschema:"model offered by the provider"`
	SessionID string `json:"session_id,omitempty" jsonschema:"tutor session; defaults to the server session"`
}

type targetOutput struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (ts *toolset) setModel(ctx context.Context, _ *mcp.CallToolRequest, in setModelInput) (*mcp.CallToolResult, targetOutput, error) {
	sess, err := ts.session(ctx, in.SessionID)
	if err != nil {
		return nil, targetOutput{}, err
	}
	if err := ts.tutor.SetModel(ctx, sess, in.Provider, in.Model); err != nil {
		return nil, targetOutput{}, err
	}
	provider, model := sess.Target()
	return nil, targetOutput{Provider: provider, Model: model}, nil
}
