package job

import (
	"time"

	"github.com/latchq/latch/id"
	"github.com/latchq/latch/payload"
)

// Options configures a JobSpec at submission time.
type Options struct {
	// Queue is the queue name this job belongs to.
	Queue string

	// Input is the declared input payload.
	Input payload.Payload

	// InitialState is the state the job is created in. Submission raises
	// it to StateBlocked when unmet prerequisites exist.
	InitialState State

	// Interval makes the job periodic. Zero means one-shot. Values below
	// MinPeriodicInterval are clamped up at submission.
	Interval time.Duration

	// PeriodStart anchors the first period of a periodic job. Zero means
	// the job is due immediately.
	PeriodStart time.Time

	// Merger names the input-merger type. Empty selects overlay.
	Merger string

	// Prerequisites lists jobs that must succeed before this one runs.
	Prerequisites []id.JobID

	// Timeout is an optional per-job execution deadline enforced by the
	// pool's timeout middleware, not by the engine core.
	Timeout time.Duration

	// RunAt schedules the job for future claiming. Zero means immediate.
	RunAt time.Time
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Queue:        "default",
		InitialState: StateEnqueued,
	}
}

// Option is a functional option for configuring a job at submission.
type Option func(*Options)

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) { o.Queue = q }
}

// WithInput sets the declared input payload.
func WithInput(p payload.Payload) Option {
	return func(o *Options) { o.Input = p }
}

// WithInitialState sets the state the job is created in.
func WithInitialState(s State) Option {
	return func(o *Options) { o.InitialState = s }
}

// WithInterval makes the job periodic with the given recurrence period.
func WithInterval(d time.Duration) Option {
	return func(o *Options) { o.Interval = d }
}

// WithPeriodStart anchors the first period of a periodic job.
func WithPeriodStart(t time.Time) Option {
	return func(o *Options) { o.PeriodStart = t }
}

// WithMerger selects the input-merger type used to combine prerequisite
// outputs.
func WithMerger(name string) Option {
	return func(o *Options) { o.Merger = name }
}

// WithPrerequisites declares jobs that must succeed before this one runs.
func WithPrerequisites(ids ...id.JobID) Option {
	return func(o *Options) { o.Prerequisites = append(o.Prerequisites, ids...) }
}

// WithTimeout sets the per-job execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRunAt schedules the job for claiming at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}
