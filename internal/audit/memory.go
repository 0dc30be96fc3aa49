package audit

import (
	"context"
	"sync"
)

// MemorySink implements Sink with in-process concurrency safety. Appends take
// the write lock, so events for one actor are observed in creation order.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

var _ Sink = (*MemorySink)(nil)

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *event
	stored.Metadata = copyMetadata(event.Metadata)
	s.events = append(s.events, stored)
	return nil
}

func (s *MemorySink) QueryByActor(ctx context.Context, actorUID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Event
	for _, e := range s.events {
		if e.ActorUID != actorUID {
			continue
		}
		out := e
		out.Metadata = copyMetadata(e.Metadata)
		res = append(res, out)
	}
	return res, nil
}

// Len reports the total number of stored events.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
