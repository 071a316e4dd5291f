package queuesched

import "errors"

var (
	// Registration conflicts.
	ErrQueueAlreadyRegistered   = errors.New("queuesched: queue already registered")
	ErrJobAlreadyRegistered     = errors.New("queuesched: job already registered")
	ErrBackendAlreadyRegistered = errors.New("queuesched: backend already registered")

	// Resolution errors.
	ErrQueueNotRegistered   = errors.New("queuesched: queue not registered")
	ErrBackendNotRegistered = errors.New("queuesched: backend not registered")
	ErrNoDefaultBackend     = errors.New("queuesched: no default backend")

	// Dispatch errors.
	ErrUnknownJob = errors.New("queuesched: unknown job")

	// Validation errors.
	ErrInvalidName = errors.New("queuesched: invalid name")
)
