package job

import (
	"context"
	"time"

	"github.com/latchq/latch/id"
	"github.com/latchq/latch/payload"
)

// Dependency is a directed edge declaring that Dependent may not run until
// Prerequisite reaches StateSucceeded. Edges are many-to-many and keep
// their insertion order, which fixes the encounter order of prerequisite
// outputs seen by the input merger.
type Dependency struct {
	DependentID    id.JobID `json:"dependent_id"`
	PrerequisiteID id.JobID `json:"prerequisite_id"`
}

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Ops is the set of job-store operations. The same interface is served by
// the store directly (each call is its own atomic unit) and by the
// transaction handle passed to Store.Atomically.
type Ops interface {
	// CreateJob persists a new job.
	CreateJob(ctx context.Context, j *JobSpec) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*JobSpec, error)

	// GetState retrieves just the state of a job.
	GetState(ctx context.Context, jobID id.JobID) (State, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *JobSpec) error

	// DeleteJob removes a job and its dependency edges.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// AddDependency persists a dependency edge.
	AddDependency(ctx context.Context, d Dependency) error

	// Dependents returns the IDs of jobs that depend on the given job,
	// in edge insertion order.
	Dependents(ctx context.Context, prerequisiteID id.JobID) ([]id.JobID, error)

	// Prerequisites returns the IDs of jobs the given job depends on,
	// in edge insertion order.
	Prerequisites(ctx context.Context, dependentID id.JobID) ([]id.JobID, error)

	// AllPrerequisitesSucceeded reports whether every prerequisite edge of
	// the given job points to a job in StateSucceeded. A job with no
	// prerequisites trivially satisfies this.
	AllPrerequisitesSucceeded(ctx context.Context, dependentID id.JobID) (bool, error)

	// PrerequisiteOutputs returns the recorded outputs of the given job's
	// prerequisites in edge insertion order.
	PrerequisiteOutputs(ctx context.Context, dependentID id.JobID) ([]payload.Payload, error)

	// ListEligible returns enqueued jobs that are due to run at now:
	// one-shot jobs with RunAt <= now, periodic jobs whose next period
	// boundary has passed (or that have never anchored a period).
	ListEligible(ctx context.Context, queues []string, now time.Time, limit int) ([]*JobSpec, error)

	// ListUnnotified returns enqueued jobs the notifier has not yet handed
	// to the schedulers, oldest first.
	ListUnnotified(ctx context.Context, limit int) ([]*JobSpec, error)

	// MarkNotified records that the notifier handed the given jobs to the
	// schedulers. Best-effort bookkeeping; never part of a transaction.
	MarkNotified(ctx context.Context, ids []id.JobID, at time.Time) error

	// HeartbeatJob records that the executing pool is still working on a
	// running job. Best-effort: calls against missing jobs or jobs not in
	// StateRunning are ignored.
	HeartbeatJob(ctx context.Context, jobID id.JobID, at time.Time) error

	// ReapStaleJobs returns running jobs whose last heartbeat (or claim
	// time, when no heartbeat landed) is older than the threshold,
	// meaning the executing process likely died mid-attempt.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*JobSpec, error)

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*JobSpec, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}

// Store is the persistence contract for jobs and their dependency edges.
//
// Atomically runs fn inside one storage transaction: either every write fn
// performs becomes visible at once, or none do. The engine wraps each
// execution's multi-step mutations (attempt increment, state writes,
// output persistence, dependent unblocking) in a single Atomically call so
// a concurrent reader never observes partial application — in particular,
// never a dependent in StateEnqueued while its prerequisite's output is
// not yet durable.
type Store interface {
	Ops

	Atomically(ctx context.Context, fn func(tx Ops) error) error
}
