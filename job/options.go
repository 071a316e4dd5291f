package job

import "time"

// Options configures a registered job type.
type Options struct {
	// Queue is the default queue name. Empty means the scheduler default.
	Queue string

	// Timeout bounds a single execution. Zero means no limit.
	Timeout time.Duration
}

// Option is a functional option for job registration.
type Option func(*Options)

// WithDefaultQueue sets the queue used when Schedule is not given On.
func WithDefaultQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
