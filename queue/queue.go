package queue

// Queue is an immutable routing target.
type Queue struct {
	// Name is the unique queue name.
	Name string `json:"name"`

	// Backend names the backend that runs this queue. Empty means the
	// scheduler default backend.
	Backend string `json:"backend,omitempty"`

	// RateLimit is the maximum sustained schedules per second accepted for
	// this queue. Zero disables throttling.
	RateLimit float64 `json:"rate_limit,omitempty"`

	// RateBurst is the token-bucket burst size. Defaults to 1 when
	// RateLimit is set.
	RateBurst int `json:"rate_burst,omitempty"`
}

// Option configures a Queue at registration.
type Option func(*Queue)

// WithBackend binds the queue to a named backend.
func WithBackend(name string) Option {
	return func(q *Queue) { q.Backend = name }
}

// WithRateLimit throttles scheduling on the queue to rps per second with
// the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(q *Queue) {
		q.RateLimit = rps
		q.RateBurst = burst
	}
}

// New builds a Queue value.
func New(name string, opts ...Option) Queue {
	q := Queue{Name: name}
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// HasBackend reports whether the queue names its own backend.
func (q Queue) HasBackend() bool { return q.Backend != "" }
