package audithook

// Actions, one per lifecycle hook.
const (
	ActionJobScheduled      = "job.scheduled"
	ActionJobStarted        = "job.started"
	ActionJobCompleted      = "job.completed"
	ActionJobFailed         = "job.failed"
	ActionSchedulerShutdown = "scheduler.shutdown"
)

// Categories.
const (
	CategoryJob       = "queuesched.job"
	CategoryScheduler = "queuesched.scheduler"
)

// Resource types.
const (
	ResourceJob       = "job"
	ResourceScheduler = "scheduler"
)

// Severities.
const (
	SeverityInfo     = "info"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AllActions returns every action the extension can record.
func AllActions() []string {
	return []string{
		ActionJobScheduled,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionSchedulerShutdown,
	}
}
