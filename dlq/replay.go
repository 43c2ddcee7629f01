package dlq

import (
	"context"

	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
)

// Replay re-submits a DLQ entry as a new enqueued job and marks the
// entry as replayed. The new job gets a fresh ID and a zeroed attempt
// count, and becomes eligible immediately.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.JobSpec, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	j := job.New(entry.Worker,
		job.WithQueue(entry.Queue),
		job.WithInput(entry.Input.Clone()),
	)
	j.ScopeTenant = entry.ScopeTenant

	if err := s.jobStore.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already submitted. Return it with the marker error.
		return j, err
	}

	return j, nil
}
