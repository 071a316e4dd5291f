package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/queuesched/job"
)

// Logging logs each run at debug level when it starts and once more when
// it returns: info on success, warn when the job deadline expired and
// error otherwise.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j job.Job, next Handler) error {
		attrs := []slog.Attr{
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID),
		}
		logger.LogAttrs(ctx, slog.LevelDebug, "job started",
			append(attrs, slog.Int("payload_bytes", len(j.Context)))...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		switch {
		case err == nil:
			logger.LogAttrs(ctx, slog.LevelInfo, "job completed", attrs...)
		case errors.Is(err, context.DeadlineExceeded):
			logger.LogAttrs(ctx, slog.LevelWarn, "job timed out",
				append(attrs, slog.String("error", err.Error()))...)
		default:
			logger.LogAttrs(ctx, slog.LevelError, "job failed",
				append(attrs, slog.String("error", err.Error()))...)
		}
		return err
	}
}
