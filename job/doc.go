// Package job defines the immutable job value carried from a scheduler to a
// backend and back to a handler, together with per-job registration options.
//
// A [Job] holds the handler name and an opaque JSON payload. Backends never
// inspect the payload; they store and return it verbatim.
//
//	j := job.New("send-email", json.RawMessage(`{"to":"a@example.com"}`))
//
// Handlers can recover the job being executed from their context with
// [FromContext].
package job
