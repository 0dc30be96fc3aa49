// Package audit defines the append-only audit event contract. Every
// privileged mutation in the kernel records exactly one Event; rejected or
// denied attempts record none. Events are never updated or deleted.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fabrik.dev/internal/ids"
	"fabrik.dev/internal/obs"
)

var (
	// ErrMissingField indicates an event without actor, role or action.
	ErrMissingField = errors.New("audit: missing required field")

	// ErrAppendFailed wraps sink failures. The enclosing mutation must not
	// be considered committed when this surfaces.
	ErrAppendFailed = errors.New("audit: append failed")
)

// Event is the canonical immutable record of one privileged action.
// ActorRole is captured at the time of the action and never recomputed.
// Metadata is a closed, action-specific mapping, not free text.
type Event struct {
	ID        string
	ActorUID  string
	ActorRole string
	Action    string
	TargetUID string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Sink is the append-only event store collaborator. Appends must preserve
// per-actor insertion order; there is no update or delete by design.
type Sink interface {
	Append(ctx context.Context, event *Event) error
	QueryByActor(ctx context.Context, actorUID string) ([]Event, error)
}

// Recorder stamps and persists events. A failed append propagates as an
// error: audit completeness is a correctness property, not best effort.
type Recorder struct {
	sink   Sink
	stream *Stream
	now    func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithStream mirrors every recorded event onto a live stream after the
// durable append succeeds.
func WithStream(s *Stream) RecorderOption {
	return func(r *Recorder) { r.stream = s }
}

// NewRecorder constructs a Recorder over the given sink.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record validates, stamps and appends one event, returning the stored copy.
func (r *Recorder) Record(ctx context.Context, event Event) (Event, error) {
	if strings.TrimSpace(event.ActorUID) == "" ||
		strings.TrimSpace(event.ActorRole) == "" ||
		strings.TrimSpace(event.Action) == "" {
		return Event{}, fmt.Errorf("%w: actor_uid, actor_role and action are required", ErrMissingField)
	}
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.now().UTC()
	}
	if event.Metadata == nil {
		event.Metadata = map[string]string{}
	}
	if err := r.sink.Append(ctx, &event); err != nil {
		obs.ObserveAuditFailure()
		return Event{}, fmt.Errorf("%w: %s: %v", ErrAppendFailed, event.Action, err)
	}
	if r.stream != nil {
		r.stream.Publish(event)
	}
	obs.LogKV(map[string]any{
		"type":      "audit",
		"event_id":  event.ID,
		"action":    event.Action,
		"actor_uid": event.ActorUID,
		"ts":        event.CreatedAt.Format(time.RFC3339Nano),
	})
	return event, nil
}

// EventsForActor returns all events for one actor in insertion order.
func (r *Recorder) EventsForActor(ctx context.Context, actorUID string) ([]Event, error) {
	return r.sink.QueryByActor(ctx, actorUID)
}
