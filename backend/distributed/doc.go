// Package distributed implements a queue backend shared by many worker
// processes through a common store.
//
// Each started [Backend] registers a worker identity with its [Accessor]
// and polls on a fixed interval. A poll claims due rows (and rows whose
// owner stopped refreshing them) in a single atomic accessor call, then
// runs every claimed job in its own goroutine. The claim is the only
// cross-process mutual exclusion point: accessors must lock candidate
// rows and skip rows already locked by a concurrent claim, so that racing
// workers partition the eligible set.
//
// Row lifecycle:
//
//	scheduled --claim--> processing --success--> (deleted)
//	processing --failure, retries left--> scheduled (retry_attempts+1, run_after in the future)
//	processing --failure, retries exhausted--> errored
//	errored --RetryErroredJob--> scheduled (retry_attempts reset)
//	processing --owner silent for StaleAfter--> processing (new owner)
//
// Delivery is at least once. A handler that outlives StaleAfter without a
// heartbeat may run twice; the backend refreshes ownership of in-flight
// jobs every HeartbeatInterval to keep that window closed for healthy
// workers.
package distributed
