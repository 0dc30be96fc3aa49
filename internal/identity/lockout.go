package identity

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle is a token-bucket limiter per credential subject. When a subject
// exhausts its bucket, authentication fails with AUTH_LOCKED_OUT until the
// bucket refills.
type Throttle struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*throttleBucket
}

type throttleBucket struct {
	lim *rate.Limiter
	ts  time.Time
}

// NewThrottle allows burst attempts immediately and perMinute sustained.
func NewThrottle(burst int, perMinute float64) *Throttle {
	return &Throttle{
		limit:   rate.Limit(perMinute / 60.0),
		burst:   burst,
		buckets: make(map[string]*throttleBucket),
	}
}

// Allow reports whether another attempt for the subject may proceed.
func (t *Throttle) Allow(subject string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[subject]
	if !ok {
		b = &throttleBucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[subject] = b
	}
	b.ts = time.Now()
	t.sweep()
	return b.lim.Allow()
}

// sweep drops buckets idle for an hour. Called with the lock held.
func (t *Throttle) sweep() {
	if len(t.buckets) < 1024 {
		return
	}
	cutoff := time.Now().Add(-time.Hour)
	for k, b := range t.buckets {
		if b.ts.Before(cutoff) {
			delete(t.buckets, k)
		}
	}
}
