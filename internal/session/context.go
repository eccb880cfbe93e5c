package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/felixgeelhaar/pylearner/internal/progress"
	"github.com/felixgeelhaar/pylearner/internal/runner"
)

// Context is one signed-in session: the account, its progress record and
// the open editors. All state is mutated under the context's lock; code
// execution runs outside it.
type Context struct {
	Token     string
	CreatedAt time.Time

	m *Manager

	mu       sync.Mutex
	user     *domain.User
	progress *domain.UserProgress
	editors  map[string]*Editor
	notices  []progress.Notice
	lastSeen time.Time
}

func newContext(m *Manager, token string, user *domain.User, p *domain.UserProgress) *Context {
	now := m.now()
	return &Context{
		Token:     token,
		CreatedAt: now,
		m:         m,
		user:      user,
		progress:  p,
		editors:   make(map[string]*Editor),
		lastSeen:  now,
	}
}

// User returns the signed-in account.
func (c *Context) User() *domain.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := *c.user
	return &u
}

// UID returns the account id.
func (c *Context) UID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user.UID
}

// Progress returns a copy of the in-memory progress record.
func (c *Context) Progress() *domain.UserProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress.Clone()
}

// Stats summarizes the progress record.
func (c *Context) Stats() progress.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m.tracker.Stats(c.progress)
}

// TakeNotices returns and clears pending notices.
func (c *Context) TakeNotices() []progress.Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.notices
	c.notices = nil
	return out
}

func (c *Context) notify(kind progress.NoticeKind, msg string) {
	c.notices = append(c.notices, progress.Notice{Kind: kind, Message: msg})
}

// noteErr turns a save failure into a notice and passes other errors on.
func (c *Context) noteErr(err error) error {
	var se *progress.SaveError
	if errors.As(err, &se) {
		c.notify(progress.NoticeError, se.Notice())
		return nil
	}
	return err
}

func (c *Context) touch() {
	c.lastSeen = c.m.now()
}

func (c *Context) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// OpenEditor opens (or reopens) an editor. The buffer comes from the stored
// submission first, then the local cache, then the starting code.
func (c *Context) OpenEditor(id string) (EditorView, error) {
	starting, err := c.m.startingCode(id)
	if err != nil {
		return EditorView{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	uid := c.user.UID
	ed := newEditor(id, starting)
	sub, submitted := c.progress.LastSubmission(id)
	switch {
	case submitted:
		ed.setCode(sub.Code)
		ed.output = sub.Output
	default:
		if code, ok, err := c.m.cache.Code(uid, id); err != nil {
			slog.Warn("read cached code", "user", uid, "editor", id, "error", err)
		} else if ok && code != "" {
			ed.setCode(code)
		}
		if out, ok, err := c.m.cache.Output(uid, id); err == nil && ok {
			ed.output = out
		}
	}
	ed.completed = c.completedLocked(id)

	if prev, ok := c.editors[id]; ok && prev.state == StateRunning {
		return prev.view(c.m.now()), nil
	}
	c.editors[id] = ed
	return c.viewLocked(ed), nil
}

func (c *Context) completedLocked(id string) bool {
	switch KindOf(id) {
	case KindProject:
		return c.progress.HasCompletedProject(strings.TrimPrefix(id, domain.ProjectEditorPrefix))
	case KindExercise:
		return c.progress.HasCompletedExercise(id)
	}
	return false
}

func (c *Context) viewLocked(ed *Editor) EditorView {
	v := ed.view(c.m.now())
	v.Loading = c.m.runner.Status().Loading
	return v
}

func (c *Context) editorLocked(id string) (*Editor, error) {
	ed, ok := c.editors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEditorNotOpen, id)
	}
	return ed, nil
}

// Editor returns the current view of an open editor.
func (c *Context) Editor(id string) (EditorView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ed, err := c.editorLocked(id)
	if err != nil {
		return EditorView{}, err
	}
	return c.viewLocked(ed), nil
}

// Edit replaces the editor buffer and caches it.
func (c *Context) Edit(id, code string) (EditorView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	ed, err := c.editorLocked(id)
	if err != nil {
		return EditorView{}, err
	}
	if ed.edit(code, c.m.now()) {
		if err := c.m.cache.SaveCode(c.user.UID, id, code); err != nil {
			slog.Warn("cache code", "user", c.user.UID, "editor", id, "error", err)
		}
	}
	return c.viewLocked(ed), nil
}

// Run executes the buffer. input may be nil; prompts then read end of input.
func (c *Context) Run(ctx context.Context, id string, input runner.InputProvider) (EditorView, *runner.Result, error) {
	code, err := c.startRun(id)
	if err != nil {
		return EditorView{}, nil, err
	}

	res, runErr := c.m.execute(ctx, c.UID(), id, code, input)

	c.mu.Lock()
	defer c.mu.Unlock()
	ed := c.editors[id]
	if runErr != nil {
		ed.abortRun()
		return c.viewLocked(ed), nil, runErr
	}
	ed.finishRun(res.Output)
	if err := c.m.cache.SaveOutput(c.user.UID, id, res.Output); err != nil {
		slog.Warn("cache output", "user", c.user.UID, "editor", id, "error", err)
	}
	return c.viewLocked(ed), res, nil
}

func (c *Context) startRun(id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	ed, err := c.editorLocked(id)
	if err != nil {
		return "", err
	}
	if err := ed.beginRun(); err != nil {
		return "", err
	}
	return ed.code, nil
}

// Submit re-runs the buffer for a fresh output and records the submission.
// XP is awarded on the first submission of an id only.
func (c *Context) Submit(ctx context.Context, id string, input runner.InputProvider) (EditorView, *progress.Outcome, error) {
	c.mu.Lock()
	ed, err := c.editorLocked(id)
	if err == nil {
		switch {
		case ed.kind == KindFree:
			err = ErrSubmitNotAllowed
		case !ed.CanSubmit():
			err = ErrRequirementsNotMet
		}
	}
	c.mu.Unlock()
	if err != nil {
		return EditorView{}, nil, err
	}

	view, res, err := c.Run(ctx, id, input)
	if err != nil {
		return view, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ed = c.editors[id]
	if ed.state != StateEligible {
		return c.viewLocked(ed), nil, ErrRequirementsNotMet
	}

	sub := domain.Submission{Code: ed.code, Output: res.Output, SubmittedAt: c.m.now().UTC()}
	var out *progress.Outcome
	if ed.kind == KindProject {
		out, err = c.m.tracker.SubmitProject(ctx, c.user.UID, c.progress, strings.TrimPrefix(id, domain.ProjectEditorPrefix), sub)
	} else {
		out, err = c.m.tracker.SubmitExercise(ctx, c.user.UID, c.progress, id, sub)
	}
	if err = c.noteErr(err); err != nil {
		return c.viewLocked(ed), nil, err
	}
	ed.markSubmitted()
	if out != nil {
		out.Progress = c.progress.Clone()
	}
	return c.viewLocked(ed), out, nil
}

// Reset restores the starting code and drops the cached entries.
func (c *Context) Reset(id string) (EditorView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()

	ed, err := c.editorLocked(id)
	if err != nil {
		return EditorView{}, err
	}
	if ed.state == StateRunning {
		return EditorView{}, ErrEditorBusy
	}
	ed.reset()
	if err := c.m.cache.Reset(c.user.UID, id); err != nil {
		slog.Warn("clear cached editor", "user", c.user.UID, "editor", id, "error", err)
	}
	return c.viewLocked(ed), nil
}

// CompleteProject marks a project complete outside of the editor.
func (c *Context) CompleteProject(ctx context.Context, projectID string) (*progress.Outcome, error) {
	projectID = strings.TrimPrefix(projectID, domain.ProjectEditorPrefix)
	if _, err := c.m.catalog.Project(projectID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
	out, err := c.m.tracker.CompleteProject(ctx, c.user.UID, c.progress, projectID)
	if err = c.noteErr(err); err != nil {
		return nil, err
	}
	out.Progress = c.progress.Clone()
	return out, nil
}

// Cancel stops the program running in editor id.
func (c *Context) Cancel(id string) error {
	return c.m.runner.CancelEditor(c.UID(), id)
}
