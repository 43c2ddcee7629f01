package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/latchq/latch"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
	"github.com/latchq/latch/payload"
)

// CreateJob stores the job as a Hash and appends it to the ID list.
func (s *Store) CreateJob(ctx context.Context, j *job.JobSpec) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("latch/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return latch.ErrJobAlreadyExists
	}

	fields, err := jobToMap(j)
	if err != nil {
		return fmt.Errorf("latch/redis: create job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.RPush(ctx, jobIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("latch/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.JobSpec, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// GetState retrieves just the state of a job.
func (s *Store) GetState(ctx context.Context, jobID id.JobID) (job.State, error) {
	state, err := s.client.HGet(ctx, jobKey(jobID.String()), "state").Result()
	if err != nil {
		if err == goredis.Nil {
			return "", latch.ErrJobNotFound
		}
		return "", fmt.Errorf("latch/redis: get state: %w", err)
	}
	return job.State(state), nil
}

// UpdateJob persists changes to an existing job. Optional fields that
// became unset are deleted from the hash so a cleared NotifiedAt round
// trips as nil.
func (s *Store) UpdateJob(ctx context.Context, j *job.JobSpec) error {
	key := jobKey(j.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("latch/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return latch.ErrJobNotFound
	}

	j.UpdatedAt = time.Now().UTC()
	fields, err := jobToMap(j)
	if err != nil {
		return fmt.Errorf("latch/redis: update job: %w", err)
	}

	cleared := make([]string, 0, 4)
	for _, f := range []string{"output", "notified_at_ms", "started_at_ms", "heartbeat_at_ms", "completed_at_ms"} {
		if _, ok := fields[f]; !ok {
			cleared = append(cleared, f)
		}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if len(cleared) > 0 {
		pipe.HDel(ctx, key, cleared...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("latch/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job and its dependency edge lists.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("latch/redis: delete job exists: %w", err)
	}
	if exists == 0 {
		return latch.ErrJobNotFound
	}

	prereqs, _ := s.client.LRange(ctx, prereqsKey(jID), 0, -1).Result()       //nolint:errcheck // best-effort cleanup
	dependents, _ := s.client.LRange(ctx, dependentsKey(jID), 0, -1).Result() //nolint:errcheck // best-effort cleanup

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key, prereqsKey(jID), dependentsKey(jID))
	pipe.LRem(ctx, jobIDsKey, 0, jID)
	for _, p := range prereqs {
		pipe.LRem(ctx, dependentsKey(p), 0, jID)
		pipe.SRem(ctx, edgesKey, jID+"|"+p)
	}
	for _, d := range dependents {
		pipe.LRem(ctx, prereqsKey(d), 0, jID)
		pipe.SRem(ctx, edgesKey, d+"|"+jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("latch/redis: delete job: %w", err)
	}
	return nil
}

// AddDependency persists a dependency edge.
func (s *Store) AddDependency(ctx context.Context, d job.Dependency) error {
	dep := d.DependentID.String()
	pre := d.PrerequisiteID.String()

	for _, jID := range []string{dep, pre} {
		exists, err := s.client.Exists(ctx, jobKey(jID)).Result()
		if err != nil {
			return fmt.Errorf("latch/redis: add dependency: %w", err)
		}
		if exists == 0 {
			return latch.ErrJobNotFound
		}
	}

	added, err := s.client.SAdd(ctx, edgesKey, dep+"|"+pre).Result()
	if err != nil {
		return fmt.Errorf("latch/redis: add dependency: %w", err)
	}
	if added == 0 {
		return latch.ErrDependencyExists
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, prereqsKey(dep), pre)
	pipe.RPush(ctx, dependentsKey(pre), dep)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("latch/redis: add dependency: %w", err)
	}
	return nil
}

// Dependents returns the IDs of jobs that depend on the given job.
func (s *Store) Dependents(ctx context.Context, prerequisiteID id.JobID) ([]id.JobID, error) {
	return s.edgeIDs(ctx, dependentsKey(prerequisiteID.String()))
}

// Prerequisites returns the IDs of jobs the given job depends on.
func (s *Store) Prerequisites(ctx context.Context, dependentID id.JobID) ([]id.JobID, error) {
	return s.edgeIDs(ctx, prereqsKey(dependentID.String()))
}

func (s *Store) edgeIDs(ctx context.Context, key string) ([]id.JobID, error) {
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("latch/redis: dependency edges: %w", err)
	}
	ids := make([]id.JobID, 0, len(raw))
	for _, r := range raw {
		parsed, err := id.ParseJobID(r)
		if err != nil {
			return nil, fmt.Errorf("latch/redis: dependency edges: %w", err)
		}
		ids = append(ids, parsed)
	}
	return ids, nil
}

// AllPrerequisitesSucceeded reports whether every prerequisite of the
// given job has succeeded. Jobs without prerequisites trivially pass.
func (s *Store) AllPrerequisitesSucceeded(ctx context.Context, dependentID id.JobID) (bool, error) {
	prereqs, err := s.client.LRange(ctx, prereqsKey(dependentID.String()), 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("latch/redis: prerequisites succeeded: %w", err)
	}
	for _, p := range prereqs {
		state, err := s.client.HGet(ctx, jobKey(p), "state").Result()
		if err != nil || job.State(state) != job.StateSucceeded {
			return false, nil
		}
	}
	return true, nil
}

// PrerequisiteOutputs returns recorded prerequisite outputs in edge order.
func (s *Store) PrerequisiteOutputs(ctx context.Context, dependentID id.JobID) ([]payload.Payload, error) {
	prereqs, err := s.client.LRange(ctx, prereqsKey(dependentID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("latch/redis: prerequisite outputs: %w", err)
	}

	outputs := make([]payload.Payload, 0, len(prereqs))
	for _, p := range prereqs {
		raw, err := s.client.HGet(ctx, jobKey(p), "output").Result()
		if err == goredis.Nil {
			outputs = append(outputs, payload.Payload{})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("latch/redis: prerequisite outputs: %w", err)
		}
		decoded, err := payload.Decode([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("latch/redis: prerequisite outputs: %w", err)
		}
		outputs = append(outputs, decoded)
	}
	return outputs, nil
}

// ListEligible scans enqueued jobs and filters the ones due at now.
func (s *Store) ListEligible(ctx context.Context, queues []string, now time.Time, limit int) ([]*job.JobSpec, error) {
	if len(queues) == 0 {
		return nil, nil
	}
	queueSet := make(map[string]bool, len(queues))
	for _, q := range queues {
		queueSet[q] = true
	}

	all, err := s.scanJobs(ctx)
	if err != nil {
		return nil, err
	}

	var eligible []*job.JobSpec
	for _, j := range all {
		if j.State != job.StateEnqueued || !queueSet[j.Queue] || now.Before(j.RunAt) {
			continue
		}
		if j.IsPeriodic() && !j.PeriodStart.IsZero() &&
			now.Before(job.NextPeriodStart(j.PeriodStart, j.Interval)) {
			continue
		}
		eligible = append(eligible, j)
	}

	sort.Slice(eligible, func(a, b int) bool {
		return eligible[a].RunAt.Before(eligible[b].RunAt)
	})
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

// ListUnnotified returns enqueued jobs not yet handed to the schedulers,
// in creation order.
func (s *Store) ListUnnotified(ctx context.Context, limit int) ([]*job.JobSpec, error) {
	all, err := s.scanJobs(ctx)
	if err != nil {
		return nil, err
	}

	var batch []*job.JobSpec
	for _, j := range all {
		if j.State != job.StateEnqueued || j.NotifiedAt != nil {
			continue
		}
		batch = append(batch, j)
		if limit > 0 && len(batch) >= limit {
			break
		}
	}
	return batch, nil
}

// MarkNotified records the hand-off time for the given jobs.
func (s *Store) MarkNotified(ctx context.Context, ids []id.JobID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	atMS := strconv.FormatInt(at.UnixMilli(), 10)

	pipe := s.client.TxPipeline()
	for _, jobID := range ids {
		pipe.HSet(ctx, jobKey(jobID.String()),
			"notified_at_ms", atMS,
			"updated_at_ms", now,
		)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("latch/redis: mark notified: %w", err)
	}
	return nil
}

// HeartbeatJob refreshes the liveness timestamp of a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, at time.Time) error {
	key := jobKey(jobID.String())
	state, err := s.client.HGet(ctx, key, "state").Result()
	if err != nil {
		if err == goredis.Nil {
			return nil
		}
		return fmt.Errorf("latch/redis: heartbeat job: %w", err)
	}
	if job.State(state) != job.StateRunning {
		return nil
	}
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	err = s.client.HSet(ctx, key,
		"heartbeat_at_ms", strconv.FormatInt(at.UnixMilli(), 10),
		"updated_at_ms", now,
	).Err()
	if err != nil {
		return fmt.Errorf("latch/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat went stale. Jobs
// that never recorded a heartbeat fall back to their claim time.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.JobSpec, error) {
	all, err := s.scanJobs(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.JobSpec
	for _, j := range all {
		if j.State != job.StateRunning {
			continue
		}
		last := j.HeartbeatAt
		if last == nil {
			last = j.StartedAt
		}
		if last == nil || last.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.JobSpec, error) {
	all, err := s.scanJobs(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []*job.JobSpec
	for _, j := range all {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		jobs = append(jobs, j)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	all, err := s.scanJobs(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, j := range all {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

// scanJobs reads every job hash in creation order, skipping IDs whose
// hash vanished between the list read and the hash read.
func (s *Store) scanJobs(ctx context.Context) ([]*job.JobSpec, error) {
	ids, err := s.client.LRange(ctx, jobIDsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("latch/redis: scan jobs: %w", err)
	}

	jobs := make([]*job.JobSpec, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.JobSpec, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("latch/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, latch.ErrJobNotFound
	}
	return mapToJob(vals)
}

func jobToMap(j *job.JobSpec) (map[string]any, error) {
	input, err := j.Input.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	m := map[string]any{
		"id":                j.ID.String(),
		"worker":            j.Worker,
		"queue":             j.Queue,
		"input":             string(input),
		"state":             string(j.State),
		"run_attempt_count": strconv.Itoa(j.RunAttemptCount),
		"period_start_ms":   strconv.FormatInt(msOrZero(j.PeriodStart), 10),
		"interval_ms":       strconv.FormatInt(j.Interval.Milliseconds(), 10),
		"merger":            j.Merger,
		"run_at_ms":         strconv.FormatInt(msOrZero(j.RunAt), 10),
		"scope_tenant":      j.ScopeTenant,
		"last_error":        j.LastError,
		"timeout_ms":        strconv.FormatInt(j.Timeout.Milliseconds(), 10),
		"created_at_ms":     strconv.FormatInt(msOrZero(j.CreatedAt), 10),
		"updated_at_ms":     strconv.FormatInt(msOrZero(j.UpdatedAt), 10),
	}
	if j.Output != nil {
		output, err := j.Output.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode output: %w", err)
		}
		m["output"] = string(output)
	}
	if j.NotifiedAt != nil {
		m["notified_at_ms"] = strconv.FormatInt(j.NotifiedAt.UnixMilli(), 10)
	}
	if j.StartedAt != nil {
		m["started_at_ms"] = strconv.FormatInt(j.StartedAt.UnixMilli(), 10)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at_ms"] = strconv.FormatInt(j.HeartbeatAt.UnixMilli(), 10)
	}
	if j.CompletedAt != nil {
		m["completed_at_ms"] = strconv.FormatInt(j.CompletedAt.UnixMilli(), 10)
	}
	return m, nil
}

func mapToJob(m map[string]string) (*job.JobSpec, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("latch/redis: parse job id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["run_attempt_count"])           //nolint:errcheck // best-effort parse from trusted Redis data
	periodMS, _ := strconv.ParseInt(m["period_start_ms"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	intervalMS, _ := strconv.ParseInt(m["interval_ms"], 10, 64)   //nolint:errcheck // best-effort parse from trusted Redis data
	runAtMS, _ := strconv.ParseInt(m["run_at_ms"], 10, 64)        //nolint:errcheck // best-effort parse from trusted Redis data
	timeoutMS, _ := strconv.ParseInt(m["timeout_ms"], 10, 64)     //nolint:errcheck // best-effort parse from trusted Redis data
	createdMS, _ := strconv.ParseInt(m["created_at_ms"], 10, 64)  //nolint:errcheck // best-effort parse from trusted Redis data
	updatedMS, _ := strconv.ParseInt(m["updated_at_ms"], 10, 64)  //nolint:errcheck // best-effort parse from trusted Redis data

	input, err := payload.Decode([]byte(m["input"]))
	if err != nil {
		return nil, fmt.Errorf("latch/redis: decode input: %w", err)
	}

	j := &job.JobSpec{
		Entity: latch.Entity{
			CreatedAt: msToTime(createdMS),
			UpdatedAt: msToTime(updatedMS),
		},
		ID:              jID,
		Worker:          m["worker"],
		Queue:           m["queue"],
		Input:           input,
		State:           job.State(m["state"]),
		RunAttemptCount: attempts,
		PeriodStart:     msToTime(periodMS),
		Interval:        time.Duration(intervalMS) * time.Millisecond,
		Merger:          m["merger"],
		RunAt:           msToTime(runAtMS),
		ScopeTenant:     m["scope_tenant"],
		LastError:       m["last_error"],
		Timeout:         time.Duration(timeoutMS) * time.Millisecond,
	}

	if raw, ok := m["output"]; ok {
		j.Output, err = payload.Decode([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("latch/redis: decode output: %w", err)
		}
	}
	j.NotifiedAt = parseMSPtr(m["notified_at_ms"])
	j.StartedAt = parseMSPtr(m["started_at_ms"])
	j.HeartbeatAt = parseMSPtr(m["heartbeat_at_ms"])
	j.CompletedAt = parseMSPtr(m["completed_at_ms"])
	return j, nil
}

// msOrZero converts to unix milliseconds, mapping the zero time to 0.
func msOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// msToTime is the inverse of msOrZero.
func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func parseMSPtr(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
