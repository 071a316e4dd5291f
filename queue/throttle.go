package queue

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Throttle rate-limits scheduling per queue. Queues without a RateLimit
// pass through. It is safe for concurrent use.
type Throttle struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewThrottle creates a Throttle for the given queues.
func NewThrottle(queues ...Queue) *Throttle {
	t := &Throttle{limiters: make(map[string]*rate.Limiter, len(queues))}
	for _, q := range queues {
		t.Set(q)
	}
	return t
}

// Set installs (or replaces) the limiter for q. A zero RateLimit removes
// any existing limiter.
func (t *Throttle) Set(q Queue) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if q.RateLimit <= 0 {
		delete(t.limiters, q.Name)
		return
	}
	burst := q.RateBurst
	if burst <= 0 {
		burst = 1
	}
	t.limiters[q.Name] = rate.NewLimiter(rate.Limit(q.RateLimit), burst)
}

// Wait blocks until the queue may accept another job or ctx is done.
func (t *Throttle) Wait(ctx context.Context, queue string) error {
	l := t.limiter(queue)
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// Allow reports whether the queue may accept a job right now, consuming a
// token if so.
func (t *Throttle) Allow(queue string) bool {
	l := t.limiter(queue)
	if l == nil {
		return true
	}
	return l.Allow()
}

// Limited reports whether the queue has a limiter installed.
func (t *Throttle) Limited(queue string) bool {
	return t.limiter(queue) != nil
}

func (t *Throttle) limiter(queue string) *rate.Limiter {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.limiters[queue]
}
