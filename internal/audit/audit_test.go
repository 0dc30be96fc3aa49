package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecordStampsAndAppends(t *testing.T) {
	sink := NewMemorySink()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(sink, WithClock(func() time.Time { return fixed }))

	stored, err := rec.Record(context.Background(), Event{
		ActorUID:  "u1",
		ActorRole: "owner",
		Action:    "disableUser",
		TargetUID: "u2",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if stored.ID == "" {
		t.Fatal("expected event id")
	}
	if !stored.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected created_at: %v", stored.CreatedAt)
	}
	if stored.Metadata == nil {
		t.Fatal("metadata must be a closed mapping, never nil")
	}

	events, err := rec.EventsForActor(context.Background(), "u1")
	if err != nil {
		t.Fatalf("EventsForActor: %v", err)
	}
	if len(events) != 1 || events[0].Action != "disableUser" {
		t.Fatalf("unexpected events: %#v", events)
	}
}

func TestRecordRejectsMissingFields(t *testing.T) {
	rec := NewRecorder(NewMemorySink())
	_, err := rec.Record(context.Background(), Event{ActorUID: "u1", Action: "signOut"})
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

type failingSink struct{}

func (failingSink) Append(context.Context, *Event) error { return errors.New("disk full") }
func (failingSink) QueryByActor(context.Context, string) ([]Event, error) {
	return nil, nil
}

func TestRecordPropagatesAppendFailure(t *testing.T) {
	rec := NewRecorder(failingSink{})
	_, err := rec.Record(context.Background(), Event{ActorUID: "u1", ActorRole: "owner", Action: "signup"})
	if !errors.Is(err, ErrAppendFailed) {
		t.Fatalf("append failure must propagate, got %v", err)
	}
}

func TestQueryByActorInsertionOrder(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(sink)
	ctx := context.Background()

	actions := []string{"signup", "verifyEmail", "assign_user_to_team", "signOut"}
	for _, a := range actions {
		if _, err := rec.Record(ctx, Event{ActorUID: "u1", ActorRole: "employee", Action: a}); err != nil {
			t.Fatalf("Record %s: %v", a, err)
		}
	}
	// Interleave another actor; u1's timeline must stay ordered.
	if _, err := rec.Record(ctx, Event{ActorUID: "u2", ActorRole: "owner", Action: "disableUser"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := rec.EventsForActor(ctx, "u1")
	if err != nil {
		t.Fatalf("EventsForActor: %v", err)
	}
	if len(events) != len(actions) {
		t.Fatalf("expected %d events, got %d", len(actions), len(events))
	}
	for i, a := range actions {
		if events[i].Action != a {
			t.Fatalf("order violated at %d: got %s want %s", i, events[i].Action, a)
		}
	}
}

func TestStoredEventsAreIsolatedCopies(t *testing.T) {
	sink := NewMemorySink()
	rec := NewRecorder(sink)
	meta := map[string]string{"scope_id": "t1"}
	stored, err := rec.Record(context.Background(), Event{
		ActorUID: "u1", ActorRole: "manager", Action: "assign_user_to_team", Metadata: meta,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	meta["scope_id"] = "mutated"
	events, _ := rec.EventsForActor(context.Background(), "u1")
	if events[0].Metadata["scope_id"] != "t1" {
		t.Fatalf("stored event mutated after append: %#v", events[0].Metadata)
	}
	_ = stored
}
