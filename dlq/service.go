package dlq

import (
	"context"
	"time"

	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds a DLQ Entry from a terminally failed job and persists it.
// The error string is captured from the final run error.
func (s *Service) Push(ctx context.Context, j *job.JobSpec, jobErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:              id.NewDLQID(),
		JobID:           j.ID,
		Worker:          j.Worker,
		Queue:           j.Queue,
		Input:           j.Input.Clone(),
		Error:           jobErr.Error(),
		RunAttemptCount: j.RunAttemptCount,
		ScopeTenant:     j.ScopeTenant,
		FailedAt:        now,
		CreatedAt:       now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// DLQStore returns the underlying DLQ store for direct access
// to List, Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
