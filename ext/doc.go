// Package ext defines the extension system for the scheduler.
//
// Extensions are notified of lifecycle events and can react to them by
// recording metrics, emitting webhooks or writing audit logs. Each
// lifecycle hook is a separate interface so extensions opt in only to the
// events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Hooks
//
//   - [JobScheduled] a job was accepted by a backend
//   - [JobStarted] a backend handed a job to the scheduler
//   - [JobCompleted] the handler returned nil
//   - [JobFailed] the handler returned an error or panicked
//   - [Shutdown] the scheduler is shutting down
//
// A failed job may still be retried by its backend; JobFailed fires once
// per failed attempt.
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
