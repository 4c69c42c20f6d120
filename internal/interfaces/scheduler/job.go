package scheduler

import "context"

// Job represents a unit of work that can be executed by the worker pool.
type Job interface {
	// Execute runs the job with the given context.
	// Context should be respected for cancellation and timeouts.
	Execute(ctx context.Context) error

	// UserID returns the user ID associated with this job.
	UserID() string

	// Description returns a human-readable description of the job.
	Description() string
}

// JobProvider lists the jobs to run on each scheduled tick.
type JobProvider func(ctx context.Context) ([]Job, error)
