// Package daemon serves the HTTP API of pylearnerd.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/pylearner/internal/admin"
	"github.com/felixgeelhaar/pylearner/internal/auth"
	"github.com/felixgeelhaar/pylearner/internal/backend"
	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/felixgeelhaar/pylearner/internal/progress"
	"github.com/felixgeelhaar/pylearner/internal/runner"
	"github.com/felixgeelhaar/pylearner/internal/session"
	"github.com/felixgeelhaar/pylearner/internal/storage"
)

// Version is reported by /v1/status.
var Version = "dev"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// authRequestsPerMinute bounds sign-up and sign-in attempts per client.
const authRequestsPerMinute = 20

// Server is the pylearnerd HTTP server.
type Server struct {
	svc       *Services
	router    *http.ServeMux
	server    *http.Server
	scheduler *admin.Scheduler
	limiter   *ipLimiter
	upgrader  websocket.Upgrader
	startedAt time.Time
}

// NewServer builds the server over svc.
func NewServer(svc *Services) *Server {
	cfg := svc.Config
	s := &Server{
		svc:       svc,
		router:    http.NewServeMux(),
		scheduler: admin.NewScheduler(),
		limiter:   newIPLimiter(authRequestsPerMinute, 5),
		startedAt: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.CORS.AllowedOrigins),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // long for runs waiting on input
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)
	s.router.Handle("GET /metrics", s.svc.Metrics.Handler())

	// Accounts
	s.router.HandleFunc("POST /v1/auth/signup", s.limiter.Middleware(s.handleSignUp))
	s.router.HandleFunc("POST /v1/auth/signin", s.limiter.Middleware(s.handleSignIn))
	s.router.HandleFunc("POST /v1/auth/signout", s.handleSignOut)
	s.router.HandleFunc("GET /v1/me", s.withSession(s.handleMe))
	s.router.HandleFunc("GET /v1/me/progress", s.withSession(s.handleProgress))
	s.router.HandleFunc("GET /v1/me/profile", s.withSession(s.handleProfile))

	// Catalog
	s.router.HandleFunc("GET /v1/topics", s.handleListTopics)
	s.router.HandleFunc("GET /v1/topics/{id}", s.handleGetTopic)
	s.router.HandleFunc("GET /v1/exercises/{id}", s.handleGetExercise)
	s.router.HandleFunc("GET /v1/projects", s.handleListProjects)
	s.router.HandleFunc("GET /v1/projects/{id}", s.handleGetProject)
	s.router.HandleFunc("POST /v1/projects/{id}/complete", s.withSession(s.handleCompleteProject))

	// Execution
	s.router.HandleFunc("POST /v1/syntax/check", s.handleSyntaxCheck)
	s.router.HandleFunc("POST /v1/run", s.withSession(s.handleRun))

	// Editors
	s.router.HandleFunc("GET /v1/editor/{id}", s.withSession(s.handleOpenEditor))
	s.router.HandleFunc("PUT /v1/editor/{id}/code", s.withSession(s.handleEditCode))
	s.router.HandleFunc("POST /v1/editor/{id}/run", s.withSession(s.handleEditorRun))
	s.router.HandleFunc("GET /v1/editor/{id}/run/ws", s.withSession(s.handleEditorRunWS))
	s.router.HandleFunc("POST /v1/editor/{id}/submit", s.withSession(s.handleSubmit))
	s.router.HandleFunc("POST /v1/editor/{id}/reset", s.withSession(s.handleReset))
	s.router.HandleFunc("POST /v1/editor/{id}/cancel", s.withSession(s.handleCancel))

	// Admin
	s.router.HandleFunc("GET /v1/admin/overview", s.withAdmin(s.handleAdminOverview))
	s.router.HandleFunc("POST /v1/admin/cleanup", s.withAdmin(s.handleAdminCleanup))
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = metricsMiddleware(s.svc.Metrics)(h)
	h = logRequests(h)
	h = recoverPanics(h)
	h = requestIDMiddleware(h)
	h = corsMiddleware(s.svc.Config.CORS.AllowedOrigins)(h)
	return h
}

// Start bootstraps the runtime, schedules maintenance jobs and serves until
// Shutdown. It returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.svc.Engine.Start(ctx)
	for _, job := range s.svc.Jobs() {
		if err := s.scheduler.Add(ctx, job); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name, err)
		}
	}
	s.scheduler.Start()

	slog.Info("starting pylearner daemon",
		"addr", s.server.Addr,
		"storage", s.svc.Config.Storage.Driver,
		"strategy", s.svc.Config.Runner.Strategy,
		"queue", s.svc.Runs != nil,
		"jobs", s.scheduler.Len(),
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")
	s.scheduler.Stop()
	err := s.server.Shutdown(ctx)
	if cerr := s.svc.Close(ctx); cerr != nil {
		slog.Warn("failed to close services", "error", cerr)
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":   "running",
		"version":  Version,
		"uptime":   time.Since(s.startedAt).Round(time.Second).String(),
		"runtime":  s.svc.Engine.Status(),
		"storage":  s.svc.Config.Storage.Driver,
		"queue":    s.svc.Runs != nil,
		"sessions": s.svc.Sessions.Count(),
		"catalog": map[string]int{
			"topics":    len(s.svc.Catalog.Topics()),
			"exercises": s.svc.Catalog.ExerciseCount(),
			"projects":  s.svc.Catalog.ProjectCount(),
		},
	})
}

// Authentication

type sessionHandler func(w http.ResponseWriter, r *http.Request, sc *session.Context)

// withSession resolves the bearer token to its session.
func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, err := s.svc.Sessions.Get(r.Context(), bearerToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, sc)
	}
}

// withAdmin additionally requires the admin role.
func (s *Server) withAdmin(next sessionHandler) http.HandlerFunc {
	return s.withSession(func(w http.ResponseWriter, r *http.Request, sc *session.Context) {
		if err := admin.RequireAdmin(sc.User()); err != nil {
			writeError(w, err)
			return
		}
		next(w, r, sc)
	})
}

// bearerToken reads the Authorization header. Browsers cannot set headers
// on websocket handshakes, so the token query parameter is accepted too.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Helper functions

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func jsonError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	jsonResponse(w, status, response)
}

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
}

// writeError maps err onto a status code and writes the error body.
func writeError(w http.ResponseWriter, err error) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	jsonError(w, status, message, nil)
}

func errorStatus(err error) (int, string) {
	var ve *auth.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Message
	case errors.Is(err, progress.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, backend.ErrUnauthorized):
		return http.StatusUnauthorized, "sign in required"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "admin access required"
	case errors.Is(err, domain.ErrExerciseNotFound), errors.Is(err, domain.ErrProjectNotFound),
		errors.Is(err, domain.ErrTopicNotFound), errors.Is(err, storage.ErrNotFound),
		errors.Is(err, session.ErrEditorNotOpen), errors.Is(err, runner.ErrRunNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, auth.ErrEmailExists), errors.Is(err, session.ErrEditorBusy):
		return http.StatusConflict, err.Error()
	case errors.Is(err, session.ErrSubmitNotAllowed), errors.Is(err, session.ErrRequirementsNotMet):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, runner.ErrRateLimited):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, runner.ErrRuntimeLoading):
		return http.StatusServiceUnavailable, err.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}
