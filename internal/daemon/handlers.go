package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/auth"
	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/felixgeelhaar/pylearner/internal/progress"
	"github.com/felixgeelhaar/pylearner/internal/queue"
	"github.com/felixgeelhaar/pylearner/internal/runner"
	"github.com/felixgeelhaar/pylearner/internal/session"
	"github.com/felixgeelhaar/pylearner/internal/syntax"
)

// Accounts

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token    string               `json:"token"`
	User     *domain.User         `json:"user"`
	Progress *domain.UserProgress `json:"progress"`
	Notices  []progress.Notice    `json:"notices"`
}

func newSessionResponse(sc *session.Context) sessionResponse {
	return sessionResponse{
		Token:    sc.Token,
		User:     sc.User(),
		Progress: sc.Progress(),
		Notices:  notices(sc),
	}
}

func notices(sc *session.Context) []progress.Notice {
	n := sc.TakeNotices()
	if n == nil {
		n = []progress.Notice{}
	}
	return n
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req auth.SignUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sc, err := s.svc.Sessions.SignUp(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, newSessionResponse(sc))
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sc, err := s.svc.Sessions.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, newSessionResponse(sc))
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Sessions.SignOut(r.Context(), bearerToken(r)); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, sc *session.Context) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"user":    sc.User(),
		"notices": notices(sc),
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, sc *session.Context) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"progress": sc.Progress(),
		"notices":  notices(sc),
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, sc *session.Context) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"user":  sc.User(),
		"stats": sc.Stats(),
	})
}

// Catalog

type topicSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Order         int    `json:"order"`
	ExerciseCount int    `json:"exercise_count"`
}

// publicExercise hides the reference solution.
func publicExercise(ex *domain.Exercise) *domain.Exercise {
	cp := *ex
	cp.Solution = ""
	return &cp
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics := s.svc.Catalog.Topics()
	out := make([]topicSummary, 0, len(topics))
	for _, t := range topics {
		out = append(out, topicSummary{
			ID:            t.ID,
			Name:          t.Name,
			Description:   t.Description,
			Order:         t.Order,
			ExerciseCount: len(t.Exercises),
		})
	}
	jsonResponse(w, http.StatusOK, map[string]any{"topics": out})
}

func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	topic, err := s.svc.Catalog.Topic(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	cp := *topic
	cp.Exercises = make([]*domain.Exercise, 0, len(topic.Exercises))
	for _, ex := range topic.Exercises {
		cp.Exercises = append(cp.Exercises, publicExercise(ex))
	}
	jsonResponse(w, http.StatusOK, &cp)
}

func (s *Server) handleGetExercise(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ex, err := s.svc.Catalog.Exercise(id)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"exercise": publicExercise(ex)}
	if next, err := s.svc.Catalog.NextExercise(id); err == nil && next != nil {
		resp["next"] = next.ID
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{"projects": s.svc.Catalog.Projects()})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Catalog.Project(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

func (s *Server) handleCompleteProject(w http.ResponseWriter, r *http.Request, sc *session.Context) {
	out, err := sc.CompleteProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"outcome": out,
		"notices": notices(sc),
	})
}

// Execution

type codeRequest struct {
	Code string `json:"code"`
}

type runRequest struct {
	Code   string   `json:"code"`
	Inputs []string `json:"inputs"`
}

type runResponse struct {
	Output   string          `json:"output"`
	Strategy runner.Strategy `json:"strategy"`
	Failed   bool            `json:"failed"`
	Inputs   int             `json:"inputs"`
	Duration time.Duration   `json:"duration"`
	Remote   bool            `json:"remote,omitempty"`
}

func (s *Server) handleSyntaxCheck(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	errs := syntax.Check(req.Code)
	if errs == nil {
		errs = []string{}
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"ok":     len(errs) == 0,
		"errors": errs,
	})
}

// handleRun executes code outside any editor. With a run queue configured
// the run goes to a worker; answers to input() must then be supplied up
// front.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, sc *session.Context) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var (
		resp *runResponse
		err  error
	)
	if s.svc.Runs != nil {
		resp, err = s.runRemote(r.Context(), sc.UID(), req)
		if errors.Is(err, queue.ErrNoResult) {
			slog.Warn("no worker answered, running locally", "user", sc.UID())
			resp, err = s.runLocal(r.Context(), sc.UID(), req)
		}
	} else {
		resp, err = s.runLocal(r.Context(), sc.UID(), req)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) runLocal(ctx context.Context, uid string, req runRequest) (*runResponse, error) {
	rr := runner.Request{SessionID: uid, Code: req.Code}
	if len(req.Inputs) > 0 {
		rr.Input = runner.StaticInputs(req.Inputs)
	}
	res, err := s.svc.Engine.Run(ctx, rr)
	if err != nil {
		return nil, err
	}
	s.svc.Metrics.ObserveRun(string(res.Strategy), runOutcome(res.Failed), res.Duration)
	return &runResponse{
		Output:   res.Output,
		Strategy: res.Strategy,
		Failed:   res.Failed,
		Inputs:   res.Inputs,
		Duration: res.Duration,
	}, nil
}

func (s *Server) runRemote(ctx context.Context, uid string, req runRequest) (*runResponse, error) {
	job := queue.CreateRunJob(uid, req.Code, req.Inputs, s.svc.Config.Runner.Timeout())
	res, err := s.svc.Runs.Dispatch(ctx, job)
	if err != nil {
		return nil, err
	}
	if res.Error != "" && res.Output == "" {
		return nil, errors.New(res.Error)
	}
	s.svc.Metrics.ObserveRun(res.Strategy, runOutcome(res.Failed), res.Duration)
	return &runResponse{
		Output:   res.Output,
		Strategy: runner.Strategy(res.Strategy),
		Failed:   res.Failed,
		Inputs:   res.Inputs,
		Duration: res.Duration,
		Remote:   true,
	}, nil
}

func runOutcome(failed bool) string {
	if failed {
		return "failed"
	}
	return "ok"
}

// Editors

type editorResponse struct {
	Editor  session.EditorView `json:"editor"`
	Result  *runner.Result     `json:"result,omitempty"`
	Outcome *progress.Outcome  `json:"outcome,omitempty"`
	Notices []progress.Notice  `json:"notices"`
}

type inputsRequest struct {
	Inputs []string `json:"inputs"`
}

func (r inputsRequest) provider() runner.InputProvider {
	if len(r.Inputs) == 0 {
		return nil
	}
	return runner.StaticInputs(r.Inputs)
}

func (s *Server) handleOpenEditor(w http.ResponseWriter, r *http.Request, sc *session.Context) {
	view, err := sc.OpenEditor(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, editorResponse{Editor: view, Notices: notices(sc)})
}

func (s *Server) handleEditCode(w http.ResponseWriter, r *http.Request, sc *session.Context) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	view, err := sc.Edit(r.PathValue("id"), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, editorResponse{Editor: view, Notices: notices(sc)})
}

func (s *Server) handleEditorRun(w http.ResponseWriter, r *http.Request, sc *session.Context) {
	var req inputsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	view, res, err := sc.Run(r.Context(), r.PathValue("id"), req.provider())
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, editorResponse{Editor: view, Result: res, Notices: notices(sc)})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, sc *session.Context) {
	var req inputsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	view, out, err := sc.Submit(r.Context(), r.PathValue("id"), req.provider())
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, editorResponse{Editor: view, Outcome: out, Notices: notices(sc)})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, sc *session.Context) {
	view, err := sc.Reset(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, editorResponse{Editor: view, Notices: notices(sc)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, sc *session.Context) {
	if err := sc.Cancel(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// Admin

func (s *Server) handleAdminOverview(w http.ResponseWriter, r *http.Request, sc *session.Context) {
	ov, err := s.svc.Admin.Overview(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, ov)
}

func (s *Server) handleAdminCleanup(w http.ResponseWriter, r *http.Request, sc *session.Context) {
	report, err := s.svc.Admin.Cleanup(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"report":  report,
		"removed": report.Removed(),
	})
}
