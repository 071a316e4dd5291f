package job

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Job is a named unit of work with an opaque payload. It is a value type;
// nothing in this module mutates a Job after construction.
type Job struct {
	// ID identifies this job instance. Backends may assign their own ids
	// when they persist a job; handlers receive the backend id.
	ID string `json:"id"`

	// Name is the handler key.
	Name string `json:"name"`

	// Context is the caller payload, JSON encoded.
	Context json.RawMessage `json:"context,omitempty"`
}

// New builds a job with a fresh random id.
func New(name string, payload json.RawMessage) Job {
	return Job{
		ID:      uuid.NewString(),
		Name:    name,
		Context: payload,
	}
}

// Handler executes a job. A returned error marks the attempt as failed.
type Handler func(ctx context.Context, j Job) error

type ctxKey struct{}

// WithJob returns a copy of ctx carrying j.
func WithJob(ctx context.Context, j Job) context.Context {
	return context.WithValue(ctx, ctxKey{}, j)
}

// FromContext returns the job stored in ctx by WithJob.
func FromContext(ctx context.Context) (Job, bool) {
	j, ok := ctx.Value(ctxKey{}).(Job)
	return j, ok
}
