// Package queuesched provides a pluggable job-scheduling engine for Go.
//
// Callers register named queues, named job handlers and one or more
// backends with a [Scheduler], then schedule typed job instances for
// immediate or delayed execution. The backend that accepts a job decides
// when it is due and calls back into the scheduler, which routes the job
// to its handler through the middleware chain.
//
// # Quick Start
//
//	s, err := queuesched.New(queuesched.WithLogger(logger))
//	_ = s.RegisterBackend("local", local.New())
//
//	emails, err := queuesched.Register(s, "send-email",
//	    func(ctx context.Context, in Email) error { return send(ctx, in) },
//	)
//
//	_ = s.Start(ctx)
//	qj, err := emails.Schedule(ctx, Email{To: "a@example.com"}, queuesched.Delay(time.Minute))
//
// # Resolution
//
// A job runs on the queue named with [On], else on its default queue. The
// queue's backend runs it, else the scheduler default backend, which is
// the first backend ever registered.
//
// # Backends
//
// backend/local keeps jobs in memory in one process. backend/distributed
// coordinates many workers through a shared store (see the store
// packages) with at-least-once delivery, retries with backoff and stale
// reclaim of jobs whose worker died.
package queuesched
