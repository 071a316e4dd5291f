// Package backend defines the contract every queue backend implements.
//
// A backend stores submitted jobs, decides when they are due and calls the
// ExecuteFunc it was started with. The scheduler owns the ExecuteFunc and
// routes each job to its registered handler; a non-nil return tells the
// backend the attempt failed so it can apply its own failure policy.
//
// Two implementations ship with this module:
//
//   - backend/local: in-memory, single process, ticker driven
//   - backend/distributed: many workers coordinating through a shared store
package backend

import (
	"context"
	"time"

	"github.com/xraph/queuesched/job"
)

// ExecuteFunc runs a job on behalf of a backend.
type ExecuteFunc func(ctx context.Context, j job.Job) error

// StartOptions configures a backend run.
type StartOptions struct {
	// ExecuteHandler is invoked for every due job.
	ExecuteHandler ExecuteFunc
}

// SubmitOptions configures a single submission.
type SubmitOptions struct {
	// After is the earliest time the job may run. Zero means now.
	After time.Time

	// Queue is the name of the queue the job was scheduled on.
	Queue string
}

// Backend is implemented by every queue backend.
//
// Start may be called more than once; a second call shuts the previous run
// down before starting a new one. Implementations never run two polling
// loops for the same instance.
type Backend interface {
	// Start begins processing, delivering due jobs to opts.ExecuteHandler.
	Start(ctx context.Context, opts StartOptions) error

	// Submit stores j and returns the backend id used by IsScheduled and
	// Cancel.
	Submit(ctx context.Context, j job.Job, opts SubmitOptions) (string, error)

	// IsScheduled reports whether the job is still pending or running.
	IsScheduled(ctx context.Context, id string) (bool, error)

	// Cancel removes a job that has not been picked up yet. Cancelling an
	// unknown or already running job is not an error.
	Cancel(ctx context.Context, id string) error

	// Shutdown stops processing and releases resources.
	Shutdown(ctx context.Context) error
}
