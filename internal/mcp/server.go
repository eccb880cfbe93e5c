// Package mcp exposes the tutorial's execution and grading tools to coding
// agents over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/felixgeelhaar/pylearner/internal/requirements"
	"github.com/felixgeelhaar/pylearner/internal/runner"
	"github.com/felixgeelhaar/pylearner/internal/session"
	"github.com/felixgeelhaar/pylearner/internal/syntax"
)

// Catalog is the read side of the exercise catalog the tools need.
type Catalog interface {
	Topics() []*domain.Topic
	Exercise(id string) (*domain.Exercise, error)
	Project(id string) (*domain.Project, error)
}

// Runner executes Python code.
type Runner interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
}

// Server wraps the MCP server with the tutorial tools.
type Server struct {
	mcpServer *server.Server
	catalog   Catalog
	runner    Runner
	version   string
}

// Config contains configuration for the MCP server
type Config struct {
	Catalog Catalog
	Runner  Runner
	Version string
}

// NewServer creates a new MCP server.
func NewServer(cfg Config) *Server {
	s := &Server{
		catalog: cfg.Catalog,
		runner:  cfg.Runner,
		version: cfg.Version,
	}
	if s.version == "" {
		s.version = "dev"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "pylearner",
		Version: s.version,
	}, server.WithInstructions(`
PyLearner is a gamified Python tutorial. These tools let you inspect its
lessons and check code the way the tutorial grades it.

Available tools:
- check_syntax: Bracket and quote balance check of Python code
- run_code: Run Python code and return its output
- check_requirements: Whether code meets an exercise's submission rules
- list_topics: Lessons with their exercise ids
- get_exercise: One exercise with starting code and hint
- get_project: One project with its requirements

Programs that call input() read the answers passed in "inputs", in order.
`))

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("check_syntax").
		Description("Check Python code for unbalanced brackets and unterminated strings.").
		Handler(s.handleCheckSyntax)

	s.mcpServer.Tool("run_code").
		Description("Run Python code. Answers to input() prompts are taken from inputs.").
		Handler(s.handleRunCode)

	s.mcpServer.Tool("check_requirements").
		Description("Report whether code meets the submission requirements of an exercise or project.").
		Handler(s.handleCheckRequirements)

	s.mcpServer.Tool("list_topics").
		Description("List the tutorial topics and their exercise ids.").
		Handler(s.handleListTopics)

	s.mcpServer.Tool("get_exercise").
		Description("Get an exercise by id.").
		Handler(s.handleGetExercise)

	s.mcpServer.Tool("get_project").
		Description("Get a project by id.").
		Handler(s.handleGetProject)
}

// Input/Output types for tools

type CodeInput struct {
	Code string `json:"code" jsonschema:"description=Python source code"`
}

type SyntaxOutput struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors"`
}

type RunInput struct {
	Code   string   `json:"code" jsonschema:"description=Python source code"`
	Inputs []string `json:"inputs,omitempty" jsonschema:"description=Answers to input() prompts in order"`
}

type RunOutput struct {
	Output   string `json:"output"`
	Failed   bool   `json:"failed"`
	Strategy string `json:"strategy"`
	Inputs   int    `json:"inputs"`
}

type RequirementsInput struct {
	ID   string `json:"id" jsonschema:"description=Exercise id or project-<id>"`
	Code string `json:"code" jsonschema:"description=Python source code"`
}

type RequirementsOutput struct {
	ID      string `json:"id"`
	Met     bool   `json:"met"`
	Message string `json:"message"`
}

type ListTopicsInput struct{}

type TopicOutput struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Exercises   []string `json:"exercises"`
}

type ListTopicsOutput struct {
	Topics []TopicOutput `json:"topics"`
}

type IDInput struct {
	ID string `json:"id" jsonschema:"description=Catalog id"`
}

type ExerciseOutput struct {
	ID           string `json:"id"`
	TopicID      string `json:"topic_id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Difficulty   string `json:"difficulty"`
	XPReward     int    `json:"xp_reward"`
	StartingCode string `json:"starting_code"`
	Hint         string `json:"hint"`
}

// Tool handlers

func (s *Server) handleCheckSyntax(ctx context.Context, input CodeInput) (SyntaxOutput, error) {
	errs := syntax.Check(input.Code)
	if errs == nil {
		errs = []string{}
	}
	return SyntaxOutput{OK: len(errs) == 0, Errors: errs}, nil
}

func (s *Server) handleRunCode(ctx context.Context, input RunInput) (RunOutput, error) {
	if s.runner == nil {
		return RunOutput{}, errors.New("code execution is not available")
	}
	req := runner.Request{
		SessionID: "mcp-" + uuid.NewString(),
		Code:      input.Code,
	}
	if len(input.Inputs) > 0 {
		req.Input = runner.StaticInputs(input.Inputs)
	}
	res, err := s.runner.Run(ctx, req)
	if err != nil {
		return RunOutput{}, fmt.Errorf("run failed: %w", err)
	}
	return RunOutput{
		Output:   res.Output,
		Failed:   res.Failed,
		Strategy: string(res.Strategy),
		Inputs:   res.Inputs,
	}, nil
}

func (s *Server) handleCheckRequirements(ctx context.Context, input RequirementsInput) (RequirementsOutput, error) {
	id := strings.TrimSpace(input.ID)
	if err := s.known(id); err != nil {
		return RequirementsOutput{}, err
	}
	met := requirements.Check(input.Code, id)
	return RequirementsOutput{
		ID:      id,
		Met:     met,
		Message: session.StatusMessage(false, met, false),
	}, nil
}

// known rejects ids that name nothing in the catalog.
func (s *Server) known(id string) error {
	switch session.KindOf(id) {
	case session.KindFree:
		return fmt.Errorf("%w: the free editor has no requirements", domain.ErrInvalidInput)
	case session.KindProject:
		_, err := s.catalog.Project(id)
		return err
	}
	_, err := s.catalog.Exercise(id)
	return err
}

func (s *Server) handleListTopics(ctx context.Context, _ ListTopicsInput) (ListTopicsOutput, error) {
	topics := s.catalog.Topics()
	out := ListTopicsOutput{Topics: make([]TopicOutput, 0, len(topics))}
	for _, t := range topics {
		ids := make([]string, 0, len(t.Exercises))
		for _, ex := range t.Exercises {
			ids = append(ids, ex.ID)
		}
		out.Topics = append(out.Topics, TopicOutput{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Exercises:   ids,
		})
	}
	return out, nil
}

// handleGetExercise leaves out the reference solution.
func (s *Server) handleGetExercise(ctx context.Context, input IDInput) (ExerciseOutput, error) {
	ex, err := s.catalog.Exercise(input.ID)
	if err != nil {
		return ExerciseOutput{}, err
	}
	return ExerciseOutput{
		ID:           ex.ID,
		TopicID:      ex.TopicID,
		Title:        ex.Title,
		Description:  ex.Description,
		Difficulty:   string(ex.Difficulty),
		XPReward:     ex.XPReward,
		StartingCode: ex.StartingCode,
		Hint:         ex.Hint,
	}, nil
}

func (s *Server) handleGetProject(ctx context.Context, input IDInput) (domain.Project, error) {
	p, err := s.catalog.Project(input.ID)
	if err != nil {
		return domain.Project{}, err
	}
	return *p, nil
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
