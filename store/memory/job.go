package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
	"github.com/latchq/latch/payload"
)

// CreateJob persists a new job.
func (s *Store) CreateJob(_ context.Context, j *job.JobSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createJob(j)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*job.JobSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getJob(jobID)
}

// GetState retrieves just the state of a job.
func (s *Store) GetState(_ context.Context, jobID id.JobID) (job.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getState(jobID)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(_ context.Context, j *job.JobSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateJob(j)
}

// DeleteJob removes a job and its dependency edges.
func (s *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteJob(jobID)
}

// AddDependency persists a dependency edge.
func (s *Store) AddDependency(_ context.Context, d job.Dependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addDependency(d)
}

// Dependents returns jobs that depend on the given job, in edge
// insertion order.
func (s *Store) Dependents(_ context.Context, prerequisiteID id.JobID) ([]id.JobID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dependents(prerequisiteID)
}

// Prerequisites returns jobs the given job depends on, in edge
// insertion order.
func (s *Store) Prerequisites(_ context.Context, dependentID id.JobID) ([]id.JobID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prerequisites(dependentID)
}

// AllPrerequisitesSucceeded reports whether every prerequisite of the
// given job has succeeded.
func (s *Store) AllPrerequisitesSucceeded(_ context.Context, dependentID id.JobID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allPrerequisitesSucceeded(dependentID)
}

// PrerequisiteOutputs returns prerequisite outputs in edge insertion order.
func (s *Store) PrerequisiteOutputs(_ context.Context, dependentID id.JobID) ([]payload.Payload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prerequisiteOutputs(dependentID)
}

// ListEligible returns enqueued jobs due to run at now.
func (s *Store) ListEligible(_ context.Context, queues []string, now time.Time, limit int) ([]*job.JobSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listEligible(queues, now, limit)
}

// ListUnnotified returns enqueued jobs not yet handed to schedulers,
// oldest first.
func (s *Store) ListUnnotified(_ context.Context, limit int) ([]*job.JobSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listUnnotified(limit)
}

// MarkNotified records the notifier hand-off time for the given jobs.
func (s *Store) MarkNotified(_ context.Context, ids []id.JobID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markNotified(ids, at)
}

// HeartbeatJob refreshes the liveness timestamp of a running job.
func (s *Store) HeartbeatJob(_ context.Context, jobID id.JobID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeatJob(jobID, at)
}

// ReapStaleJobs returns running jobs whose heartbeat went stale.
func (s *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.JobSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reapStaleJobs(threshold)
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.JobSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listJobsByState(state, opts)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countJobs(opts)
}

// ──────────────────────────────────────────────────
// Internals. Callers hold the store mutex.
// ──────────────────────────────────────────────────

func (s *Store) createJob(j *job.JobSpec) error {
	if s.closed {
		return latch.ErrStoreClosed
	}
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("%w: %s", latch.ErrJobAlreadyExists, j.ID)
	}
	s.jobs[j.ID] = cloneJob(j)
	s.jobOrder = append(s.jobOrder, j.ID)
	return nil
}

func (s *Store) getJob(jobID id.JobID) (*job.JobSpec, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", latch.ErrJobNotFound, jobID)
	}
	return cloneJob(j), nil
}

func (s *Store) getState(jobID id.JobID) (job.State, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return "", fmt.Errorf("%w: %s", latch.ErrJobNotFound, jobID)
	}
	return j.State, nil
}

func (s *Store) updateJob(j *job.JobSpec) error {
	if s.closed {
		return latch.ErrStoreClosed
	}
	if _, ok := s.jobs[j.ID]; !ok {
		return fmt.Errorf("%w: %s", latch.ErrJobNotFound, j.ID)
	}
	c := cloneJob(j)
	c.UpdatedAt = time.Now().UTC()
	s.jobs[j.ID] = c
	return nil
}

func (s *Store) deleteJob(jobID id.JobID) error {
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("%w: %s", latch.ErrJobNotFound, jobID)
	}
	delete(s.jobs, jobID)

	order := s.jobOrder[:0]
	for _, oid := range s.jobOrder {
		if oid != jobID {
			order = append(order, oid)
		}
	}
	s.jobOrder = order

	deps := s.deps[:0]
	for _, d := range s.deps {
		if d.DependentID != jobID && d.PrerequisiteID != jobID {
			deps = append(deps, d)
		}
	}
	s.deps = deps
	return nil
}

func (s *Store) addDependency(d job.Dependency) error {
	if _, ok := s.jobs[d.DependentID]; !ok {
		return fmt.Errorf("%w: dependent %s", latch.ErrJobNotFound, d.DependentID)
	}
	if _, ok := s.jobs[d.PrerequisiteID]; !ok {
		return fmt.Errorf("%w: prerequisite %s", latch.ErrJobNotFound, d.PrerequisiteID)
	}
	for _, existing := range s.deps {
		if existing == d {
			return fmt.Errorf("%w: %s -> %s", latch.ErrDependencyExists, d.PrerequisiteID, d.DependentID)
		}
	}
	s.deps = append(s.deps, d)
	return nil
}

func (s *Store) dependents(prerequisiteID id.JobID) ([]id.JobID, error) {
	var out []id.JobID
	for _, d := range s.deps {
		if d.PrerequisiteID == prerequisiteID {
			out = append(out, d.DependentID)
		}
	}
	return out, nil
}

func (s *Store) prerequisites(dependentID id.JobID) ([]id.JobID, error) {
	var out []id.JobID
	for _, d := range s.deps {
		if d.DependentID == dependentID {
			out = append(out, d.PrerequisiteID)
		}
	}
	return out, nil
}

func (s *Store) allPrerequisitesSucceeded(dependentID id.JobID) (bool, error) {
	for _, d := range s.deps {
		if d.DependentID != dependentID {
			continue
		}
		pre, ok := s.jobs[d.PrerequisiteID]
		if !ok {
			return false, fmt.Errorf("%w: prerequisite %s", latch.ErrJobNotFound, d.PrerequisiteID)
		}
		if pre.State != job.StateSucceeded {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) prerequisiteOutputs(dependentID id.JobID) ([]payload.Payload, error) {
	var out []payload.Payload
	for _, d := range s.deps {
		if d.DependentID != dependentID {
			continue
		}
		pre, ok := s.jobs[d.PrerequisiteID]
		if !ok {
			return nil, fmt.Errorf("%w: prerequisite %s", latch.ErrJobNotFound, d.PrerequisiteID)
		}
		out = append(out, pre.Output.Clone())
	}
	return out, nil
}

func (s *Store) listEligible(queues []string, now time.Time, limit int) ([]*job.JobSpec, error) {
	var out []*job.JobSpec
	for _, jobID := range s.jobOrder {
		j := s.jobs[jobID]
		if j.State != job.StateEnqueued {
			continue
		}
		if !inQueues(j.Queue, queues) {
			continue
		}
		if !dueAt(j, now) {
			continue
		}
		out = append(out, cloneJob(j))
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].RunAt.Before(out[k].RunAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) listUnnotified(limit int) ([]*job.JobSpec, error) {
	var out []*job.JobSpec
	for _, jobID := range s.jobOrder {
		j := s.jobs[jobID]
		if j.State != job.StateEnqueued || j.NotifiedAt != nil {
			continue
		}
		out = append(out, cloneJob(j))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) heartbeatJob(jobID id.JobID, at time.Time) error {
	j, ok := s.jobs[jobID]
	if !ok || j.State != job.StateRunning {
		return nil
	}
	t := at
	j.HeartbeatAt = &t
	return nil
}

func (s *Store) reapStaleJobs(threshold time.Duration) ([]*job.JobSpec, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	var out []*job.JobSpec
	for _, jobID := range s.jobOrder {
		j := s.jobs[jobID]
		if j.State != job.StateRunning {
			continue
		}
		last := j.HeartbeatAt
		if last == nil {
			last = j.StartedAt
		}
		if last == nil || last.Before(cutoff) {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (s *Store) markNotified(ids []id.JobID, at time.Time) error {
	for _, jobID := range ids {
		j, ok := s.jobs[jobID]
		if !ok {
			continue
		}
		t := at
		j.NotifiedAt = &t
	}
	return nil
}

func (s *Store) listJobsByState(state job.State, opts job.ListOpts) ([]*job.JobSpec, error) {
	var all []*job.JobSpec
	for _, jobID := range s.jobOrder {
		j := s.jobs[jobID]
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		all = append(all, cloneJob(j))
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return nil, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, nil
}

func (s *Store) countJobs(opts job.CountOpts) (int64, error) {
	var n int64
	for _, j := range s.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		n++
	}
	return n, nil
}

// dueAt reports whether an enqueued job is due to run at now. A periodic
// job becomes due when its current period has elapsed; a job that has
// never anchored a period is due immediately.
func dueAt(j *job.JobSpec, now time.Time) bool {
	if now.Before(j.RunAt) {
		return false
	}
	if !j.IsPeriodic() || j.PeriodStart.IsZero() {
		return true
	}
	return !now.Before(j.PeriodStart.Add(j.Interval))
}

func inQueues(queue string, queues []string) bool {
	if len(queues) == 0 {
		return true
	}
	for _, q := range queues {
		if q == queue {
			return true
		}
	}
	return false
}

func cloneJob(j *job.JobSpec) *job.JobSpec {
	c := *j
	c.Input = j.Input.Clone()
	c.Output = j.Output.Clone()
	if j.NotifiedAt != nil {
		t := *j.NotifiedAt
		c.NotifiedAt = &t
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.HeartbeatAt != nil {
		t := *j.HeartbeatAt
		c.HeartbeatAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
