package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/queuesched/job"
)

// TimeoutFunc returns the execution limit for a job. Zero means no limit.
type TimeoutFunc func(j job.Job) time.Duration

// Timeout returns middleware that enforces a per-job execution deadline
// looked up through limit. When the deadline passes the context is
// cancelled and the handler should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger, limit TimeoutFunc) Middleware {
	return func(ctx context.Context, j job.Job, next Handler) error {
		if d := limit(j); d > 0 {
			logger.Debug("job timeout set",
				slog.String("job_id", j.ID),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
