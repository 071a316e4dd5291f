package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/queuesched/job"
)

// PanicError is returned by Recover when a handler panics.
type PanicError struct {
	JobName string
	JobID   string
	Value   any
	Stack   []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in job %s: %v", e.JobName, e.Value)
}

// Recover turns a handler panic into a *PanicError and logs the stack.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j job.Job, next Handler) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			pe := &PanicError{JobName: j.Name, JobID: j.ID, Value: r, Stack: debug.Stack()}
			logger.LogAttrs(ctx, slog.LevelError, "job handler panicked",
				slog.String("job_name", pe.JobName),
				slog.String("job_id", pe.JobID),
				slog.Any("panic", r),
				slog.String("stack", string(pe.Stack)),
			)
			err = pe
		}()
		return next(ctx)
	}
}
