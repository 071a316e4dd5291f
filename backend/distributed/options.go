package distributed

import (
	"log/slog"
	"time"

	"github.com/xraph/queuesched/backoff"
)

// Option configures a Backend.
type Option func(*Backend)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(b *Backend) { b.config = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithBackoff sets the retry delay strategy. It takes precedence over
// Config.Backoff and Config.BackoffDelay.
func WithBackoff(s backoff.Strategy) Option {
	return func(b *Backend) { b.strategy = s }
}

// WithClaimInterval sets the claim loop period.
func WithClaimInterval(d time.Duration) Option {
	return func(b *Backend) { b.config.ClaimInterval = d }
}

// WithMaxConcurrent sets the per-worker in-flight cap.
func WithMaxConcurrent(n int) Option {
	return func(b *Backend) { b.config.MaxConcurrent = n }
}

// WithMaxRetries sets the number of backoffs before a job is errored.
func WithMaxRetries(n int) Option {
	return func(b *Backend) { b.config.MaxRetries = n }
}

// WithStaleAfter sets the ownership staleness threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(b *Backend) { b.config.StaleAfter = d }
}

// WithHeartbeatInterval sets the ownership refresh period. Zero disables
// the heartbeat.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(b *Backend) { b.config.HeartbeatInterval = d }
}

// WithAccessorRetry sets the retry count and base delay for completion
// calls.
func WithAccessorRetry(n int, delay time.Duration) Option {
	return func(b *Backend) {
		b.config.AccessorRetries = n
		b.config.AccessorRetryDelay = delay
	}
}
