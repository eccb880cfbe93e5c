package session

import (
	"strings"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/felixgeelhaar/pylearner/internal/requirements"
	"github.com/felixgeelhaar/pylearner/internal/syntax"
)

// State is the editor lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateOutputReady State = "output_ready"
	StateEligible    State = "eligible"
	StateIneligible  State = "ineligible"
	StateSubmitted   State = "submitted"
)

// Editor status messages.
const (
	MsgSubmitted        = "Exercise submitted! ✅"
	MsgRequirementsMet  = "Requirements met! Ready to submit your solution."
	MsgAlreadyCompleted = "Exercise completed! You can still submit updated solutions."
	MsgRequirementsHint = "Write code that meets the exercise requirements to submit."
)

// SavedIndicatorDuration is how long the "saved" flag stays up after an edit.
const SavedIndicatorDuration = 2 * time.Second

// FreeEditorCode is the starting buffer of the scratch editor.
const FreeEditorCode = "# Write your Python code here\nprint('Hello, Python!')"

// Kind tells what an editor id refers to.
type Kind string

const (
	KindExercise Kind = "exercise"
	KindProject  Kind = "project"
	KindFree     Kind = "free"
)

// KindOf classifies an editor id.
func KindOf(id string) Kind {
	switch {
	case id == domain.FreeEditorID:
		return KindFree
	case strings.HasPrefix(id, domain.ProjectEditorPrefix):
		return KindProject
	}
	return KindExercise
}

// StatusMessage returns the line shown under the editor.
func StatusMessage(submitted, canSubmit, completed bool) string {
	switch {
	case submitted:
		return MsgSubmitted
	case canSubmit && completed:
		return MsgAlreadyCompleted
	case canSubmit:
		return MsgRequirementsMet
	}
	return MsgRequirementsHint
}

// Editor is the per-exercise editing state:
// idle → running → output_ready → eligible|ineligible → submitted.
// Editing after a run or submission returns it to idle.
type Editor struct {
	id           string
	kind         Kind
	startingCode string

	code      string
	output    string
	state     State
	completed bool
	savedAt   time.Time
	syntax    []string
}

func newEditor(id, startingCode string) *Editor {
	e := &Editor{
		id:           id,
		kind:         KindOf(id),
		startingCode: startingCode,
		code:         startingCode,
		state:        StateIdle,
	}
	e.syntax = syntax.Check(e.code)
	return e
}

// CanSubmit reports whether the buffer meets the exercise's requirements.
// The scratch editor never submits.
func (e *Editor) CanSubmit() bool {
	if e.kind == KindFree || strings.TrimSpace(e.code) == "" {
		return false
	}
	return requirements.Check(e.code, e.id)
}

func (e *Editor) setCode(code string) {
	e.code = code
	e.syntax = syntax.Check(code)
}

// edit replaces the buffer. It reports whether the buffer differs from the
// starting code and so belongs in the cache.
func (e *Editor) edit(code string, now time.Time) bool {
	if code == e.code {
		return code != e.startingCode
	}
	e.setCode(code)
	if e.state != StateRunning {
		e.state = StateIdle
	}
	if code == e.startingCode {
		return false
	}
	e.savedAt = now
	return true
}

func (e *Editor) beginRun() error {
	if e.state == StateRunning {
		return ErrEditorBusy
	}
	e.state = StateRunning
	return nil
}

// finishRun stores the output and settles eligibility.
func (e *Editor) finishRun(output string) {
	e.output = output
	e.state = StateOutputReady
	if e.output != "" && e.CanSubmit() {
		e.state = StateEligible
	} else {
		e.state = StateIneligible
	}
}

func (e *Editor) abortRun() {
	if e.state == StateRunning {
		e.state = StateIdle
	}
}

func (e *Editor) markSubmitted() {
	e.state = StateSubmitted
	e.completed = true
}

func (e *Editor) reset() {
	e.setCode(e.startingCode)
	e.output = ""
	e.state = StateIdle
	e.savedAt = time.Time{}
}

// EditorView is the client-facing snapshot of an editor.
type EditorView struct {
	ID           string   `json:"id"`
	Kind         Kind     `json:"kind"`
	Code         string   `json:"code"`
	Output       string   `json:"output"`
	State        State    `json:"state"`
	CanSubmit    bool     `json:"can_submit"`
	Submitted    bool     `json:"submitted"`
	Completed    bool     `json:"completed"`
	Saved        bool     `json:"saved"`
	Status       string   `json:"status,omitempty"`
	SyntaxErrors []string `json:"syntax_errors"`
	Loading      bool     `json:"loading"`
}

func (e *Editor) view(now time.Time) EditorView {
	canSubmit := e.CanSubmit()
	submitted := e.state == StateSubmitted
	v := EditorView{
		ID:           e.id,
		Kind:         e.kind,
		Code:         e.code,
		Output:       e.output,
		State:        e.state,
		CanSubmit:    canSubmit,
		Submitted:    submitted,
		Completed:    e.completed,
		Saved:        !e.savedAt.IsZero() && now.Sub(e.savedAt) < SavedIndicatorDuration,
		SyntaxErrors: e.syntax,
	}
	if e.kind != KindFree {
		v.Status = StatusMessage(submitted, canSubmit, e.completed)
	}
	if v.SyntaxErrors == nil {
		v.SyntaxErrors = []string{}
	}
	return v
}
