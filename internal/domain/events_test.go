package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewBaseEvent(t *testing.T) {
	before := time.Now()
	a := NewBaseEvent(EventSignedIn, "uid-1")
	b := NewBaseEvent(EventSignedIn, "uid-1")

	if a.EventID() == b.EventID() {
		t.Error("events share an id")
	}
	if a.EventType() != EventSignedIn || a.UserID() != "uid-1" {
		t.Errorf("event = %+v", a)
	}
	if a.OccurredAt().Before(before) || a.OccurredAt().After(time.Now()) {
		t.Errorf("OccurredAt() = %v", a.OccurredAt())
	}
}

func TestEventConstructors(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{NewSignedInEvent(&User{UID: "u1"}), EventSignedIn},
		{NewSignedOutEvent("u1"), EventSignedOut},
		{NewExerciseCompletedEvent("u1", "dt-1", 10), EventExerciseCompleted},
		{NewExerciseCompletedEvent("u1", "dt-1", 0), EventExerciseResubmitted},
		{NewProjectCompletedEvent("u1", "madlibs", 50), EventProjectCompleted},
		{NewLevelUpEvent("u1", 2), EventLevelUp},
		{NewSaveFailedEvent("u1", errors.New("disk full")), EventSaveFailed},
	}
	for _, tt := range tests {
		if tt.event.EventType() != tt.want {
			t.Errorf("%T type = %q, want %q", tt.event, tt.event.EventType(), tt.want)
		}
		if tt.event.UserID() != "u1" {
			t.Errorf("%T uid = %q", tt.event, tt.event.UserID())
		}
	}
}

func TestEventDispatcher_RoutesByType(t *testing.T) {
	d := NewEventDispatcher()
	var levels []int
	var all []string
	d.Subscribe(EventLevelUp, func(e Event) { levels = append(levels, e.(LevelUpEvent).Level) })
	d.SubscribeAll(func(e Event) { all = append(all, e.EventType()) })

	d.PublishAll([]Event{
		NewExerciseCompletedEvent("u1", "dt-1", 10),
		NewLevelUpEvent("u1", 2),
	})

	if len(levels) != 1 || levels[0] != 2 {
		t.Errorf("level handler saw %v", levels)
	}
	if len(all) != 2 || all[0] != EventExerciseCompleted {
		t.Errorf("catch-all saw %v", all)
	}
}

func TestEventDispatcher_Unsubscribe(t *testing.T) {
	d := NewEventDispatcher()
	calls := 0
	stop := d.Subscribe(EventSignedOut, func(Event) { calls++ })

	d.Publish(NewSignedOutEvent("u1"))
	stop()
	d.Publish(NewSignedOutEvent("u1"))
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	// A handler removing itself must not deadlock.
	var self func()
	self = d.SubscribeAll(func(Event) { self() })
	d.Publish(NewSignedOutEvent("u1"))
}
