package job

import (
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/payload"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateEnqueued means the job is eligible to be picked up by a scheduler.
	StateEnqueued State = "enqueued"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateBlocked means the job is waiting on unmet prerequisites. Blocked
	// is only ever entered at submission time.
	StateBlocked State = "blocked"
	// StateSucceeded means the job finished successfully. Terminal for
	// one-shot jobs; periodic jobs never enter it.
	StateSucceeded State = "succeeded"
	// StateFailed means the job failed permanently. Terminal for one-shot
	// jobs; periodic jobs never enter it.
	StateFailed State = "failed"
	// StateCancelled means the job was explicitly cancelled. Sticky: a
	// cancelled job is never executed and never overwritten by failure
	// propagation.
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether the state ends a one-shot job's lifecycle.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// MinPeriodicInterval is the smallest allowed interval for a periodic job.
// Submission clamps smaller intervals up to this value; the rescheduler
// itself never clamps.
const MinPeriodicInterval = 15 * time.Minute

// JobSpec is a persisted description of one unit of work, its state, and
// its scheduling metadata.
type JobSpec struct {
	latch.Entity

	ID     id.JobID `json:"id"`
	Worker string   `json:"worker"`
	Queue  string   `json:"queue"`

	// Input is the declared input payload. When the job has prerequisites
	// the effective input is built by the input merger instead.
	Input  payload.Payload `json:"input"`
	Output payload.Payload `json:"output,omitempty"`

	State           State `json:"state"`
	RunAttemptCount int   `json:"run_attempt_count"`

	// PeriodStart anchors a periodic job's schedule. For unblocked
	// dependents it records the unblock moment so they are scheduled from
	// then, not from creation time. Millisecond precision is preserved by
	// every store.
	PeriodStart time.Time `json:"period_start_time"`

	// Interval is the recurrence period. Zero means one-shot.
	Interval time.Duration `json:"interval,omitempty"`

	// Merger names the input-merger type used to combine prerequisite
	// outputs. Empty selects the overlay merger.
	Merger string `json:"merger,omitempty"`

	// RunAt is the earliest time a scheduler should claim the job. Retry
	// backoff moves it; period arithmetic does not.
	RunAt time.Time `json:"run_at"`

	// NotifiedAt records when the notifier last handed this job to the
	// schedulers. Unset means the job is unclaimed and will be picked up
	// by the next sweep.
	NotifiedAt *time.Time `json:"notified_at,omitempty"`

	ScopeTenant string `json:"scope_tenant,omitempty"`

	LastError string        `json:"last_error,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	StartedAt *time.Time    `json:"started_at,omitempty"`

	// HeartbeatAt is the last time the executing pool confirmed the job
	// is still being worked on. A running job whose heartbeat goes stale
	// is reaped back to the queue.
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsPeriodic reports whether the job recurs.
func (j *JobSpec) IsPeriodic() bool { return j.Interval > 0 }

// New builds a JobSpec for the given worker type with submission options
// applied. The returned spec is not persisted; hand it to engine.Submit.
func New(worker string, opts ...Option) *JobSpec {
	return NewFromOptions(worker, ApplyOptions(opts...))
}

// ApplyOptions folds opts over DefaultOptions. Exposed so the engine can
// read fields like Prerequisites that do not live on the spec itself.
func ApplyOptions(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewFromOptions builds a JobSpec from already-applied options.
func NewFromOptions(worker string, o Options) *JobSpec {
	now := time.Now().UTC()
	j := &JobSpec{
		Entity:      latch.NewEntity(),
		ID:          id.NewJobID(),
		Worker:      worker,
		Queue:       o.Queue,
		Input:       o.Input,
		State:       o.InitialState,
		PeriodStart: o.PeriodStart,
		Interval:    o.Interval,
		Merger:      o.Merger,
		RunAt:       now,
		Timeout:     o.Timeout,
	}
	if j.Input == nil {
		j.Input = payload.Payload{}
	}
	if j.Interval > 0 && j.Interval < MinPeriodicInterval {
		j.Interval = MinPeriodicInterval
	}
	if !o.RunAt.IsZero() {
		j.RunAt = o.RunAt
	}
	return j
}

// NextPeriodStart computes the start of the period following current.
// Period boundaries come from the schedule, not wall-clock drift: exactly
// one period is advanced per execution, and an overdue job does not catch
// up missed periods.
func NextPeriodStart(current time.Time, interval time.Duration) time.Time {
	return current.Add(interval)
}
