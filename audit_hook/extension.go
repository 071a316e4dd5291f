package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/queuesched/ext"
	"github.com/xraph/queuesched/job"
)

var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobScheduled = (*Extension)(nil)
	_ ext.JobStarted   = (*Extension)(nil)
	_ ext.JobCompleted = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
	_ ext.Shutdown     = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// AuditEvent is one recorded transition.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Extension records lifecycle events through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil records everything
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Extension writing to r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnJobScheduled implements ext.JobScheduled.
func (e *Extension) OnJobScheduled(ctx context.Context, j job.Job, queue, backend string) error {
	return e.record(ctx, &AuditEvent{
		Action:     ActionJobScheduled,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: j.ID,
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
		Metadata: map[string]any{
			"job_name": j.Name,
			"queue":    queue,
			"backend":  backend,
		},
	})
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j job.Job) error {
	return e.record(ctx, jobEvent(ActionJobStarted, j, SeverityInfo, OutcomeSuccess))
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j job.Job, elapsed time.Duration) error {
	evt := jobEvent(ActionJobCompleted, j, SeverityInfo, OutcomeSuccess)
	evt.Metadata["elapsed_ms"] = elapsed.Milliseconds()
	return e.record(ctx, evt)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j job.Job, jobErr error) error {
	evt := jobEvent(ActionJobFailed, j, SeverityCritical, OutcomeFailure)
	if jobErr != nil {
		evt.Reason = jobErr.Error()
		evt.Metadata["error"] = jobErr.Error()
	}
	return e.record(ctx, evt)
}

// OnShutdown implements ext.Shutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, &AuditEvent{
		Action:   ActionSchedulerShutdown,
		Resource: ResourceScheduler,
		Category: CategoryScheduler,
		Outcome:  OutcomeSuccess,
		Severity: SeverityInfo,
	})
}

func jobEvent(action string, j job.Job, severity, outcome string) *AuditEvent {
	return &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: j.ID,
		Outcome:    outcome,
		Severity:   severity,
		Metadata:   map[string]any{"job_name": j.Name},
	}
}

// record sends evt when its action is enabled. Recorder failures are
// logged, not returned.
func (e *Extension) record(ctx context.Context, evt *AuditEvent) error {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return nil
	}
	evt.OccurredAt = e.now().UTC()

	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit event not recorded",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
