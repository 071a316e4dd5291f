// Package cron schedules jobs on recurring cron expressions.
//
// A [Scheduler] keeps entries in memory and, on every tick, fires each
// entry whose next run time has passed. Firing usually schedules a job
// through a JobManager (see [Schedule]), so the job itself still runs on
// whichever backend its queue resolves to.
//
// Entries are process-local. When several processes share a distributed
// backend, run the cron scheduler in one of them only, or every process
// schedules its own copy of each run.
//
//	c := cron.New()
//	_ = cron.Schedule(c, "nightly-report", "0 2 * * *", reports, ReportInput{Format: "pdf"})
//	_ = c.Start(ctx)
//
// Expressions use the standard five fields plus descriptors such as
// "@hourly" and "@every 30s".
package cron
