package sqlite

type migration struct {
	name  string
	stmts []string
}

var migrations = []migration{
	{
		name: "001_create_jobs",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS queuesched_jobs (
				job_id          TEXT PRIMARY KEY,
				queue_name      TEXT NOT NULL,
				job_name        TEXT NOT NULL,
				group_key       TEXT,
				job_context     TEXT,
				run_after       INTEGER,
				worker_id       TEXT,
				status          TEXT NOT NULL DEFAULT 'scheduled'
					CHECK (status IN ('scheduled', 'processing', 'errored')),
				latest_error    TEXT,
				retry_attempts  INTEGER NOT NULL DEFAULT 0 CHECK (retry_attempts >= 0),
				updated_at      INTEGER NOT NULL,
				created_at      INTEGER NOT NULL,
				CHECK ((status = 'processing') = (worker_id IS NOT NULL)),
				CHECK (status <> 'errored' OR run_after IS NULL)
			)`,
			`CREATE INDEX IF NOT EXISTS queuesched_jobs_claim_idx
				ON queuesched_jobs (status, worker_id, run_after)`,
			`CREATE INDEX IF NOT EXISTS queuesched_jobs_owner_idx
				ON queuesched_jobs (worker_id, updated_at)`,
		},
	},
	{
		name: "002_create_workers",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS queuesched_workers (
				worker_id       TEXT PRIMARY KEY,
				hostname        TEXT NOT NULL DEFAULT '',
				registered_at   INTEGER NOT NULL,
				last_seen_at    INTEGER NOT NULL
			)`,
		},
	},
}
