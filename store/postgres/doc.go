// Package postgres implements store.Store using pgx/v5 with raw SQL.
//
// This is the reference layout for the distributed backend. Claims use a
// single statement that locks candidates with FOR UPDATE SKIP LOCKED and
// returns their pre-claim snapshot:
//
//	WITH candidates AS (
//	    SELECT ... FROM queuesched_jobs
//	    WHERE <due scheduled or stale processing>
//	    ORDER BY created_at LIMIT $n
//	    FOR UPDATE SKIP LOCKED
//	)
//	UPDATE queuesched_jobs j SET worker_id = $w, status = 'processing', ...
//	FROM candidates c WHERE j.job_id = c.job_id
//	RETURNING c.*
//
// Table names carry a configurable prefix (default "queuesched_") so that
// several schedulers can share one database. Schema migrations are
// embedded SQL files applied by Migrate.
package postgres
