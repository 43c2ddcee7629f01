package remote

import (
	"context"
	"time"

	"github.com/latchq/latch/job"
	"github.com/latchq/latch/notify"
	"github.com/latchq/latch/stream"
)

// ScheduleBatch is the payload pushed to external schedulers when the
// notifier hands out eligible jobs.
type ScheduleBatch struct {
	Jobs []ScheduledJob `json:"jobs"`
	At   time.Time      `json:"at"`
}

// ScheduledJob is one eligible job in a schedule batch.
type ScheduledJob struct {
	JobID  string    `json:"job_id"`
	Worker string    `json:"worker"`
	Queue  string    `json:"queue"`
	RunAt  time.Time `json:"run_at"`
}

// Scheduler pushes notifier schedule batches to connected wire clients
// via the stream broker. Register it on the engine with
// engine.WithScheduler; delivery is best-effort, a slow or disconnected
// client simply misses the batch and catches up on the next sweep.
type Scheduler struct {
	broker *stream.Broker
}

var _ notify.Scheduler = (*Scheduler)(nil)

// NewScheduler creates a schedule-batch publisher over the given broker.
func NewScheduler(broker *stream.Broker) *Scheduler {
	return &Scheduler{broker: broker}
}

// Schedule implements notify.Scheduler.
func (s *Scheduler) Schedule(ctx context.Context, jobs ...*job.JobSpec) error {
	if len(jobs) == 0 {
		return nil
	}

	batch := ScheduleBatch{
		Jobs: make([]ScheduledJob, 0, len(jobs)),
		At:   time.Now().UTC(),
	}
	for _, j := range jobs {
		batch.Jobs = append(batch.Jobs, ScheduledJob{
			JobID:  j.ID.String(),
			Worker: j.Worker,
			Queue:  j.Queue,
			RunAt:  j.RunAt,
		})
	}

	evt, err := stream.NewEvent(stream.TopicSchedule, batch)
	if err != nil {
		return err
	}
	s.broker.Publish(stream.TopicSchedule, evt)
	return nil
}
