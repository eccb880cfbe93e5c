package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Event Interface and Base Event
// -----------------------------------------------------------------------------

// Event represents a domain event
type Event interface {
	// EventID returns the unique identifier for this event
	EventID() uuid.UUID
	// EventType returns the type name of this event
	EventType() string
	// OccurredAt returns when this event occurred
	OccurredAt() time.Time
	// UserID returns the account the event belongs to
	UserID() string
}

// BaseEvent provides common event fields
type BaseEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	UID       string    `json:"uid"`
}

// NewBaseEvent creates a new BaseEvent
func NewBaseEvent(eventType, uid string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		UID:       uid,
	}
}

func (e BaseEvent) EventID() uuid.UUID    { return e.ID }
func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) UserID() string        { return e.UID }

// Event type names.
const (
	EventSignedIn            = "auth.signed_in"
	EventSignedOut           = "auth.signed_out"
	EventExerciseCompleted   = "exercise.completed"
	EventExerciseResubmitted = "exercise.resubmitted"
	EventProjectCompleted    = "project.completed"
	EventLevelUp             = "progress.level_up"
	EventSaveFailed          = "progress.save_failed"
)

// -----------------------------------------------------------------------------
// Event Handler and Dispatcher
// -----------------------------------------------------------------------------

// EventHandler processes domain events
type EventHandler func(event Event)

// EventDispatcher manages event subscriptions and publishing
type EventDispatcher struct {
	mu          sync.RWMutex
	nextID      int
	handlers    map[string]map[int]EventHandler
	allHandlers map[int]EventHandler
}

// NewEventDispatcher creates a new event dispatcher
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers:    make(map[string]map[int]EventHandler),
		allHandlers: make(map[int]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type. The returned
// function removes the handler again.
func (d *EventDispatcher) Subscribe(eventType string, handler EventHandler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	if d.handlers[eventType] == nil {
		d.handlers[eventType] = make(map[int]EventHandler)
	}
	d.handlers[eventType][id] = handler
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers[eventType], id)
	}
}

// SubscribeAll registers a handler for all event types
func (d *EventDispatcher) SubscribeAll(handler EventHandler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.allHandlers[id] = handler
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.allHandlers, id)
	}
}

// Publish dispatches an event to all registered handlers.
// Handlers run outside the lock so they may subscribe or unsubscribe.
func (d *EventDispatcher) Publish(event Event) {
	d.mu.RLock()
	var targets []EventHandler
	for _, h := range d.handlers[event.EventType()] {
		targets = append(targets, h)
	}
	for _, h := range d.allHandlers {
		targets = append(targets, h)
	}
	d.mu.RUnlock()

	for _, h := range targets {
		h(event)
	}
}

// PublishAll dispatches multiple events
func (d *EventDispatcher) PublishAll(events []Event) {
	for _, event := range events {
		d.Publish(event)
	}
}

// -----------------------------------------------------------------------------
// Auth Events
// -----------------------------------------------------------------------------

// AuthStateEvent is published on sign-in and sign-out. User is nil on sign-out.
type AuthStateEvent struct {
	BaseEvent
	User *User `json:"user,omitempty"`
}

// NewSignedInEvent creates a sign-in event
func NewSignedInEvent(user *User) AuthStateEvent {
	return AuthStateEvent{BaseEvent: NewBaseEvent(EventSignedIn, user.UID), User: user}
}

// NewSignedOutEvent creates a sign-out event
func NewSignedOutEvent(uid string) AuthStateEvent {
	return AuthStateEvent{BaseEvent: NewBaseEvent(EventSignedOut, uid)}
}

// -----------------------------------------------------------------------------
// Progress Events
// -----------------------------------------------------------------------------

// ExerciseCompletedEvent is published when a submission is stored
type ExerciseCompletedEvent struct {
	BaseEvent
	ExerciseID string `json:"exercise_id"`
	XPAwarded  int    `json:"xp_awarded"`
}

// NewExerciseCompletedEvent creates a completion event. A zero award marks a resubmission.
func NewExerciseCompletedEvent(uid, exerciseID string, xp int) ExerciseCompletedEvent {
	eventType := EventExerciseCompleted
	if xp == 0 {
		eventType = EventExerciseResubmitted
	}
	return ExerciseCompletedEvent{
		BaseEvent:  NewBaseEvent(eventType, uid),
		ExerciseID: exerciseID,
		XPAwarded:  xp,
	}
}

// ProjectCompletedEvent is published the first time a project is completed
type ProjectCompletedEvent struct {
	BaseEvent
	ProjectID string `json:"project_id"`
	XPAwarded int    `json:"xp_awarded"`
}

// NewProjectCompletedEvent creates a project completed event
func NewProjectCompletedEvent(uid, projectID string, xp int) ProjectCompletedEvent {
	return ProjectCompletedEvent{
		BaseEvent: NewBaseEvent(EventProjectCompleted, uid),
		ProjectID: projectID,
		XPAwarded: xp,
	}
}

// LevelUpEvent is published when XP crosses a level threshold
type LevelUpEvent struct {
	BaseEvent
	Level int `json:"level"`
}

// NewLevelUpEvent creates a level up event
func NewLevelUpEvent(uid string, level int) LevelUpEvent {
	return LevelUpEvent{BaseEvent: NewBaseEvent(EventLevelUp, uid), Level: level}
}

// SaveFailedEvent is published when progress could not be persisted.
// The in-memory record is kept ahead of the stored one.
type SaveFailedEvent struct {
	BaseEvent
	Err error `json:"-"`
}

// NewSaveFailedEvent creates a save failed event
func NewSaveFailedEvent(uid string, err error) SaveFailedEvent {
	return SaveFailedEvent{BaseEvent: NewBaseEvent(EventSaveFailed, uid), Err: err}
}
