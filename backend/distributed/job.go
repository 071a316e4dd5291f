package distributed

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// Status is the persisted state of a distributed job.
type Status string

const (
	// StatusScheduled rows are unowned and wait for run_after.
	StatusScheduled Status = "scheduled"
	// StatusProcessing rows are owned by a worker.
	StatusProcessing Status = "processing"
	// StatusErrored rows exhausted their retries and wait for an explicit retry.
	StatusErrored Status = "errored"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusProcessing, StatusErrored:
		return true
	}
	return false
}

// ParseStatus converts a stored status value, rejecting unknown ones.
func ParseStatus(s string) (Status, error) {
	if st := Status(s); st.Valid() {
		return st, nil
	}
	return "", fmt.Errorf("queuesched/distributed: unknown job status %q", s)
}

// Job is a persisted row as returned by an Accessor.
type Job struct {
	JobID         string          `json:"job_id"`
	QueueName     string          `json:"queue_name"`
	JobName       string          `json:"job_name"`
	JobContext    json.RawMessage `json:"job_context"`
	GroupKey      *string         `json:"group_key,omitempty"`
	RunAfter      *time.Time      `json:"run_after,omitempty"`
	WorkerID      *string         `json:"worker_id,omitempty"`
	Status        Status          `json:"status"`
	RetryAttempts int             `json:"retry_attempts"`
	LatestError   *ErrorReason    `json:"latest_error,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Owner returns the owning worker id, or "" when unowned.
func (j *Job) Owner() string {
	if j.WorkerID == nil {
		return ""
	}
	return *j.WorkerID
}

// WritableJob holds the caller-supplied fields of a new row.
type WritableJob struct {
	JobID      string
	QueueName  string
	JobName    string
	JobContext json.RawMessage
	GroupKey   *string
	RunAfter   *time.Time
}

// ErrorReason is the structured failure recorded on an errored row. It
// serializes as {"error":{"name":...,"message":...,"stack":...}}.
type ErrorReason struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a handler failure.
type ErrorDetail struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// NewErrorReason builds an ErrorReason from a handler error. Panics keep
// the stack captured where they were recovered; other errors get the
// current goroutine stack.
func NewErrorReason(err error) ErrorReason {
	var pe *PanicError
	if errors.As(err, &pe) {
		return ErrorReason{Error: ErrorDetail{
			Name:    "panic",
			Message: pe.Error(),
			Stack:   string(pe.Stack),
		}}
	}
	return ErrorReason{Error: ErrorDetail{
		Name:    fmt.Sprintf("%T", err),
		Message: err.Error(),
		Stack:   string(debug.Stack()),
	}}
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Worker is a registered worker identity.
type Worker struct {
	ID           string    `json:"worker_id"`
	Hostname     string    `json:"hostname"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}
