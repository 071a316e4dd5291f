// Package storetest provides the conformance suite every store.Store
// implementation runs from its own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/store"
)

// Factory returns an empty, migrated store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Lifecycle", testLifecycle},
		{"GenerateJobID", testGenerateJobID},
		{"EnqueueAndGet", testEnqueueAndGet},
		{"EnqueueOwned", testEnqueueOwned},
		{"ClaimDue", testClaimDue},
		{"ClaimLimit", testClaimLimit},
		{"ClaimDisjoint", testClaimDisjoint},
		{"StaleReclaim", testStaleReclaim},
		{"RefreshOwnership", testRefreshOwnership},
		{"DeleteJob", testDeleteJob},
		{"BackoffOwnedJob", testBackoffOwnedJob},
		{"ErrorAndRetry", testErrorAndRetry},
		{"Workers", testWorkers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func testGenerateJobID(t *testing.T, s store.Store) {
	ctx := context.Background()
	seen := make(map[string]struct{})
	for range 100 {
		jobID, err := s.GenerateJobID(ctx)
		if err != nil {
			t.Fatalf("GenerateJobID: %v", err)
		}
		if !strings.HasPrefix(jobID, "job_") {
			t.Fatalf("job id %q lacks job_ prefix", jobID)
		}
		if _, dup := seen[jobID]; dup {
			t.Fatalf("duplicate job id %q", jobID)
		}
		seen[jobID] = struct{}{}
	}
}

func testEnqueueAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	group := "tenant-7"
	runAfter := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)

	w := newWritable(t, s)
	w.QueueName = "mail"
	w.GroupKey = &group
	w.RunAfter = &runAfter

	if err := s.EnqueueJob(ctx, "", w); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, "", w); !errors.Is(err, distributed.ErrJobAlreadyExists) {
		t.Fatalf("duplicate EnqueueJob err = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, w.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.JobID != w.JobID || got.QueueName != "mail" || got.JobName != w.JobName {
		t.Errorf("row = %+v", got)
	}
	assertJSONEqual(t, got.JobContext, w.JobContext)
	if got.GroupKey == nil || *got.GroupKey != group {
		t.Errorf("group key = %v", got.GroupKey)
	}
	if got.RunAfter == nil || !closeTo(*got.RunAfter, runAfter) {
		t.Errorf("run after = %v, want %v", got.RunAfter, runAfter)
	}
	if got.Status != distributed.StatusScheduled || got.WorkerID != nil || got.RetryAttempts != 0 {
		t.Errorf("new row state = %s owner=%v attempts=%d", got.Status, got.WorkerID, got.RetryAttempts)
	}
	if got.LatestError != nil {
		t.Errorf("latest error = %+v", got.LatestError)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Errorf("timestamps not set: created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}

	status, err := s.GetJobStatus(ctx, w.JobID)
	if err != nil || status != distributed.StatusScheduled {
		t.Errorf("GetJobStatus = %q, %v", status, err)
	}

	missing, _ := s.GenerateJobID(ctx)
	if _, err := s.GetJob(ctx, missing); !errors.Is(err, distributed.ErrJobNotFound) {
		t.Errorf("GetJob missing err = %v", err)
	}
	if _, err := s.GetJobStatus(ctx, missing); !errors.Is(err, distributed.ErrJobNotFound) {
		t.Errorf("GetJobStatus missing err = %v", err)
	}
}

func testEnqueueOwned(t *testing.T, s store.Store) {
	ctx := context.Background()
	worker := registerWorker(t, s)

	w := newWritable(t, s)
	if err := s.EnqueueJob(ctx, worker, w); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	got := mustGet(t, s, w.JobID)
	if got.Status != distributed.StatusProcessing || got.Owner() != worker {
		t.Errorf("owned row = %s owner=%q", got.Status, got.Owner())
	}

	other := registerWorker(t, s)
	claimed := claim(t, s, other, 10, time.Hour)
	if len(claimed) != 0 {
		t.Errorf("fresh owned row claimed by another worker: %v", ids(claimed))
	}
}

func testClaimDue(t *testing.T, s store.Store) {
	ctx := context.Background()
	worker := registerWorker(t, s)

	due := newWritable(t, s)
	past := time.Now().UTC().Add(-time.Minute)
	pastDue := newWritable(t, s)
	pastDue.RunAfter = &past
	future := time.Now().UTC().Add(time.Hour)
	later := newWritable(t, s)
	later.RunAfter = &future

	for _, w := range []distributed.WritableJob{due, pastDue, later} {
		if err := s.EnqueueJob(ctx, "", w); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
	before := mustGet(t, s, due.JobID)

	claimed := claim(t, s, worker, 10, time.Hour)
	gotIDs := ids(claimed)
	if len(claimed) != 2 || !gotIDs[due.JobID] || !gotIDs[pastDue.JobID] {
		t.Fatalf("claimed %v, want %s and %s", gotIDs, due.JobID, pastDue.JobID)
	}
	for _, j := range claimed {
		if j.Status != distributed.StatusScheduled || j.WorkerID != nil {
			t.Errorf("claim returned post-claim state for %s: %s owner=%v", j.JobID, j.Status, j.WorkerID)
		}
		if j.JobName != due.JobName {
			t.Errorf("job name = %q", j.JobName)
		}
	}

	after := mustGet(t, s, due.JobID)
	if after.Status != distributed.StatusProcessing || after.Owner() != worker {
		t.Errorf("claimed row = %s owner=%q", after.Status, after.Owner())
	}
	if after.UpdatedAt.Before(before.UpdatedAt) {
		t.Errorf("updated_at went backwards: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
	if got := mustGet(t, s, later.JobID); got.Status != distributed.StatusScheduled || got.WorkerID != nil {
		t.Errorf("future row touched: %s owner=%v", got.Status, got.WorkerID)
	}

	if again := claim(t, s, registerWorker(t, s), 10, time.Hour); len(again) != 0 {
		t.Errorf("second claim returned %v", ids(again))
	}
}

func testClaimLimit(t *testing.T, s store.Store) {
	worker := registerWorker(t, s)
	enqueueN(t, s, 5)

	if got := claim(t, s, worker, 0, time.Hour); len(got) != 0 {
		t.Errorf("limit 0 claimed %d", len(got))
	}
	if got := claim(t, s, worker, 3, time.Hour); len(got) != 3 {
		t.Errorf("limit 3 claimed %d", len(got))
	}
	if got := claim(t, s, worker, 3, time.Hour); len(got) != 2 {
		t.Errorf("remaining claim got %d, want 2", len(got))
	}
}

func testClaimDisjoint(t *testing.T, s store.Store) {
	const (
		rows    = 60
		workers = 6
	)
	want := enqueueN(t, s, rows)

	workerIDs := make([]string, workers)
	for i := range workerIDs {
		workerIDs[i] = registerWorker(t, s)
	}

	var (
		mu    sync.Mutex
		owner = make(map[string]string)
		errs  []error
		wg    sync.WaitGroup
	)
	for _, w := range workerIDs {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for range rows {
				got, err := s.ClaimOwnership(context.Background(), worker, 4, time.Hour)
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
					mu.Unlock()
					return
				}
				for _, j := range got {
					if prev, dup := owner[j.JobID]; dup {
						errs = append(errs, fmt.Errorf("job %s claimed by %s and %s", j.JobID, prev, worker))
					}
					owner[j.JobID] = worker
				}
				mu.Unlock()
				if len(got) == 0 {
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatal(errors.Join(errs...))
	}
	// A worker may stop early on an empty batch while rows are locked by
	// others; drain whatever is left.
	for _, j := range claim(t, s, workerIDs[0], rows, time.Hour) {
		if _, dup := owner[j.JobID]; dup {
			t.Fatalf("job %s claimed twice", j.JobID)
		}
		owner[j.JobID] = workerIDs[0]
	}
	if len(owner) != len(want) {
		t.Fatalf("claimed %d distinct rows, want %d", len(owner), len(want))
	}
	for jobID, worker := range owner {
		if got := mustGet(t, s, jobID); got.Owner() != worker {
			t.Errorf("row %s owned by %q, claim said %q", jobID, got.Owner(), worker)
		}
	}
}

func testStaleReclaim(t *testing.T, s store.Store) {
	const staleAfter = 200 * time.Millisecond

	first := registerWorker(t, s)
	second := registerWorker(t, s)
	w := enqueueN(t, s, 1)[0]

	if got := claim(t, s, first, 1, staleAfter); len(got) != 1 {
		t.Fatalf("first claim got %d", len(got))
	}
	if got := claim(t, s, second, 1, staleAfter); len(got) != 0 {
		t.Fatalf("fresh row reclaimed: %v", ids(got))
	}

	time.Sleep(2 * staleAfter)

	got := claim(t, s, second, 1, staleAfter)
	if len(got) != 1 || got[0].JobID != w {
		t.Fatalf("stale claim got %v, want %s", ids(got), w)
	}
	if got[0].Status != distributed.StatusProcessing || got[0].Owner() != first {
		t.Errorf("stale snapshot = %s owner=%q, want processing by %q", got[0].Status, got[0].Owner(), first)
	}
	if row := mustGet(t, s, w); row.Owner() != second {
		t.Errorf("owner after reclaim = %q, want %q", row.Owner(), second)
	}
}

func testRefreshOwnership(t *testing.T, s store.Store) {
	const staleAfter = 300 * time.Millisecond
	ctx := context.Background()

	owner := registerWorker(t, s)
	thief := registerWorker(t, s)
	jobIDs := enqueueN(t, s, 2)
	if got := claim(t, s, owner, 2, staleAfter); len(got) != 2 {
		t.Fatalf("claim got %d", len(got))
	}

	time.Sleep(staleAfter + 100*time.Millisecond)

	// Refreshing from the wrong worker must not help.
	if err := s.RefreshOwnership(ctx, thief, jobIDs[1:]); err != nil {
		t.Fatalf("RefreshOwnership: %v", err)
	}
	if err := s.RefreshOwnership(ctx, owner, jobIDs[:1]); err != nil {
		t.Fatalf("RefreshOwnership: %v", err)
	}

	got := claim(t, s, thief, 10, staleAfter)
	if len(got) != 1 || got[0].JobID != jobIDs[1] {
		t.Fatalf("claim after refresh got %v, want only %s", ids(got), jobIDs[1])
	}
	if row := mustGet(t, s, jobIDs[0]); row.Owner() != owner {
		t.Errorf("refreshed row owner = %q", row.Owner())
	}
}

func testDeleteJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := registerWorker(t, s)
	other := registerWorker(t, s)

	unowned := enqueueN(t, s, 1)[0]
	owned := newWritable(t, s)
	if err := s.EnqueueJob(ctx, owner, owned); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	steps := []struct {
		name    string
		worker  string
		jobID   string
		present bool
	}{
		{"other worker cannot delete owned row", other, owned.JobID, true},
		{"empty worker cannot delete owned row", "", owned.JobID, true},
		{"worker cannot delete unowned row", owner, unowned, true},
		{"owner deletes owned row", owner, owned.JobID, false},
		{"empty worker deletes unowned row", "", unowned, false},
		{"deleting a missing row is a no-op", "", unowned, false},
	}
	for _, st := range steps {
		if err := s.DeleteJob(ctx, st.worker, st.jobID); err != nil {
			t.Fatalf("%s: %v", st.name, err)
		}
		_, err := s.GetJob(ctx, st.jobID)
		if present := err == nil; present != st.present {
			t.Errorf("%s: present=%v err=%v", st.name, present, err)
		}
	}
}

func testBackoffOwnedJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := registerWorker(t, s)
	other := registerWorker(t, s)
	jobID := enqueueN(t, s, 1)[0]
	claim(t, s, owner, 1, time.Hour)

	if err := s.BackoffOwnedJob(ctx, other, jobID, 1, time.Hour); err != nil {
		t.Fatalf("BackoffOwnedJob: %v", err)
	}
	if row := mustGet(t, s, jobID); row.Status != distributed.StatusProcessing || row.RetryAttempts != 0 {
		t.Fatalf("non-owner backoff applied: %s attempts=%d", row.Status, row.RetryAttempts)
	}

	start := time.Now()
	if err := s.BackoffOwnedJob(ctx, owner, jobID, 1, time.Hour); err != nil {
		t.Fatalf("BackoffOwnedJob: %v", err)
	}
	row := mustGet(t, s, jobID)
	if row.Status != distributed.StatusScheduled || row.WorkerID != nil || row.RetryAttempts != 1 {
		t.Fatalf("after backoff = %s owner=%v attempts=%d", row.Status, row.WorkerID, row.RetryAttempts)
	}
	if row.RunAfter == nil || row.RunAfter.Before(start.Add(59*time.Minute)) {
		t.Errorf("run after = %v, want about an hour from now", row.RunAfter)
	}
	if got := claim(t, s, owner, 10, time.Hour); len(got) != 0 {
		t.Errorf("backed off row claimed early: %v", ids(got))
	}

	// Ownership is required again for the next backoff.
	if err := s.BackoffOwnedJob(ctx, owner, jobID, 2, -time.Second); err != nil {
		t.Fatalf("BackoffOwnedJob: %v", err)
	}
	if row := mustGet(t, s, jobID); row.RetryAttempts != 1 {
		t.Errorf("unowned row backed off again: attempts=%d", row.RetryAttempts)
	}
}

func testErrorAndRetry(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := registerWorker(t, s)
	jobID := enqueueN(t, s, 1)[0]
	claim(t, s, owner, 1, time.Hour)
	if err := s.BackoffOwnedJob(ctx, owner, jobID, 3, -time.Second); err != nil {
		t.Fatalf("BackoffOwnedJob: %v", err)
	}
	claim(t, s, owner, 1, time.Hour)

	if err := s.RetryErroredJob(ctx, jobID); !errors.Is(err, distributed.ErrJobNotFound) {
		t.Errorf("retry of processing row err = %v, want ErrJobNotFound", err)
	}

	reason := distributed.ErrorReason{Error: distributed.ErrorDetail{
		Name:    "*errors.errorString",
		Message: "smtp unavailable",
		Stack:   "goroutine 1 [running]:",
	}}
	if err := s.ErrorOwnedJob(ctx, "", jobID, reason); err != nil {
		t.Fatalf("ErrorOwnedJob: %v", err)
	}
	if row := mustGet(t, s, jobID); row.Status != distributed.StatusProcessing {
		t.Fatalf("unowned error applied: %s", row.Status)
	}

	if err := s.ErrorOwnedJob(ctx, owner, jobID, reason); err != nil {
		t.Fatalf("ErrorOwnedJob: %v", err)
	}
	row := mustGet(t, s, jobID)
	if row.Status != distributed.StatusErrored || row.WorkerID != nil || row.RunAfter != nil {
		t.Fatalf("errored row = %s owner=%v run_after=%v", row.Status, row.WorkerID, row.RunAfter)
	}
	if row.RetryAttempts != 3 {
		t.Errorf("attempts = %d, want 3", row.RetryAttempts)
	}
	if row.LatestError == nil || *row.LatestError != reason {
		t.Errorf("latest error = %+v, want %+v", row.LatestError, reason)
	}
	if got := claim(t, s, owner, 10, time.Millisecond); len(got) != 0 {
		t.Errorf("errored row claimed: %v", ids(got))
	}

	if err := s.RetryErroredJob(ctx, jobID); err != nil {
		t.Fatalf("RetryErroredJob: %v", err)
	}
	row = mustGet(t, s, jobID)
	if row.Status != distributed.StatusScheduled || row.RetryAttempts != 0 || row.LatestError != nil || row.WorkerID != nil {
		t.Errorf("retried row = %s attempts=%d error=%v owner=%v", row.Status, row.RetryAttempts, row.LatestError, row.WorkerID)
	}
	if got := claim(t, s, owner, 10, time.Hour); len(got) != 1 {
		t.Errorf("retried row not claimable: %v", ids(got))
	}

	missing, _ := s.GenerateJobID(ctx)
	if err := s.RetryErroredJob(ctx, missing); !errors.Is(err, distributed.ErrJobNotFound) {
		t.Errorf("retry of missing row err = %v", err)
	}
}

func testWorkers(t *testing.T, s store.Store) {
	ctx := context.Background()
	leaving := registerWorker(t, s)
	staying := registerWorker(t, s)
	if leaving == staying {
		t.Fatalf("duplicate worker id %q", leaving)
	}

	workers, err := s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 2 {
		t.Fatalf("workers = %d, want 2", len(workers))
	}
	for _, w := range workers {
		if w.RegisteredAt.IsZero() || w.LastSeenAt.IsZero() {
			t.Errorf("worker %s timestamps unset", w.ID)
		}
	}

	jobIDs := enqueueN(t, s, 2)
	claim(t, s, leaving, 1, time.Hour)
	claim(t, s, staying, 1, time.Hour)

	if err := s.DeregisterWorker(ctx, leaving); err != nil {
		t.Fatalf("DeregisterWorker: %v", err)
	}

	released := 0
	for _, jobID := range jobIDs {
		row := mustGet(t, s, jobID)
		switch row.Owner() {
		case "":
			if row.Status != distributed.StatusScheduled {
				t.Errorf("released row status = %s", row.Status)
			}
			released++
		case staying:
		default:
			t.Errorf("row %s still owned by %q", jobID, row.Owner())
		}
	}
	if released != 1 {
		t.Errorf("released %d rows, want 1", released)
	}

	workers, err = s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 1 || workers[0].ID != staying {
		t.Errorf("workers after deregister = %v", workers)
	}
}

func newWritable(t *testing.T, s store.Store) distributed.WritableJob {
	t.Helper()
	jobID, err := s.GenerateJobID(context.Background())
	if err != nil {
		t.Fatalf("GenerateJobID: %v", err)
	}
	return distributed.WritableJob{
		JobID:      jobID,
		QueueName:  "general",
		JobName:    "send-email",
		JobContext: json.RawMessage(`{"to":"a@example.com","n":1}`),
	}
}

func enqueueN(t *testing.T, s store.Store, n int) []string {
	t.Helper()
	out := make([]string, n)
	for i := range out {
		w := newWritable(t, s)
		if err := s.EnqueueJob(context.Background(), "", w); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
		out[i] = w.JobID
	}
	return out
}

func registerWorker(t *testing.T, s store.Store) string {
	t.Helper()
	worker, err := s.RegisterWorker(context.Background())
	if err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	if !strings.HasPrefix(worker, "wkr_") {
		t.Fatalf("worker id %q lacks wkr_ prefix", worker)
	}
	return worker
}

func claim(t *testing.T, s store.Store, worker string, limit int, staleAfter time.Duration) []*distributed.Job {
	t.Helper()
	got, err := s.ClaimOwnership(context.Background(), worker, limit, staleAfter)
	if err != nil {
		t.Fatalf("ClaimOwnership: %v", err)
	}
	return got
}

func mustGet(t *testing.T, s store.Store, jobID string) *distributed.Job {
	t.Helper()
	j, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob(%s): %v", jobID, err)
	}
	return j
}

func ids(jobs []*distributed.Job) map[string]bool {
	out := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		out[j.JobID] = true
	}
	return out
}

func closeTo(a, b time.Time) bool {
	d := a.Sub(b)
	return d > -time.Millisecond && d < time.Millisecond
}

func assertJSONEqual(t *testing.T, got, want json.RawMessage) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("stored context %q is not JSON: %v", got, err)
	}
	if err := json.Unmarshal(want, &w); err != nil {
		t.Fatal(err)
	}
	gb, _ := json.Marshal(g)
	wb, _ := json.Marshal(w)
	if string(gb) != string(wb) {
		t.Errorf("context = %s, want %s", gb, wb)
	}
}
