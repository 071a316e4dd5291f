// Package queue defines the queue value type and per-queue schedule
// throttling.
//
// A queue is a named routing target. It optionally names the backend that
// runs its jobs; a queue without a backend uses the scheduler default.
//
//	q := queue.New("emails",
//	    queue.WithBackend("postgres"),
//	    queue.WithRateLimit(50, 100), // at most 50 schedules/s, bursts of 100
//	)
//
// [Throttle] holds one token bucket per rate-limited queue. The scheduler
// waits on it before submitting a job, so a burst of Schedule calls against
// a limited queue is smoothed instead of flooding the backend.
package queue
