package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
	"github.com/latchq/latch/payload"
)

// CreateJob persists a new job.
func (o *ops) CreateJob(ctx context.Context, j *job.JobSpec) error {
	args, err := jobArgs(j)
	if err != nil {
		return fmt.Errorf("latch/postgres: create job: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO latch_jobs (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		jobColumns,
	)
	if _, err := o.q.Exec(ctx, query, args...); err != nil {
		if isDuplicateKey(err) {
			return latch.ErrJobAlreadyExists
		}
		return fmt.Errorf("latch/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (o *ops) GetJob(ctx context.Context, jobID id.JobID) (*job.JobSpec, error) {
	query := fmt.Sprintf("SELECT %s FROM latch_jobs WHERE id = $1", jobColumns)
	j, err := scanJob(o.q.QueryRow(ctx, query, jobID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, latch.ErrJobNotFound
		}
		return nil, fmt.Errorf("latch/postgres: get job: %w", err)
	}
	return j, nil
}

// GetState retrieves just the state of a job.
func (o *ops) GetState(ctx context.Context, jobID id.JobID) (job.State, error) {
	var state string
	err := o.q.QueryRow(ctx,
		"SELECT state FROM latch_jobs WHERE id = $1", jobID.String(),
	).Scan(&state)
	if err != nil {
		if isNoRows(err) {
			return "", latch.ErrJobNotFound
		}
		return "", fmt.Errorf("latch/postgres: get state: %w", err)
	}
	return job.State(state), nil
}

// UpdateJob persists changes to an existing job and refreshes UpdatedAt.
func (o *ops) UpdateJob(ctx context.Context, j *job.JobSpec) error {
	j.UpdatedAt = time.Now().UTC()
	args, err := jobArgs(j)
	if err != nil {
		return fmt.Errorf("latch/postgres: update job: %w", err)
	}

	query := `
		UPDATE latch_jobs SET
			worker = $2, queue = $3, input = $4, output = $5, state = $6,
			run_attempt_count = $7, period_start = $8, interval_ms = $9,
			merger = $10, run_at = $11, notified_at = $12, scope_tenant = $13,
			last_error = $14, timeout_ms = $15, started_at = $16,
			heartbeat_at = $17, completed_at = $18, created_at = $19,
			updated_at = $20
		WHERE id = $1`

	tag, err := o.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("latch/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return latch.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job; dependency edges go with it via FK cascade.
func (o *ops) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := o.q.Exec(ctx,
		"DELETE FROM latch_jobs WHERE id = $1", jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("latch/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return latch.ErrJobNotFound
	}
	return nil
}

// AddDependency persists a dependency edge.
func (o *ops) AddDependency(ctx context.Context, d job.Dependency) error {
	_, err := o.q.Exec(ctx,
		"INSERT INTO latch_dependencies (dependent_id, prerequisite_id) VALUES ($1, $2)",
		d.DependentID.String(), d.PrerequisiteID.String(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return latch.ErrDependencyExists
		}
		return fmt.Errorf("latch/postgres: add dependency: %w", err)
	}
	return nil
}

// Dependents returns the IDs of jobs that depend on the given job.
func (o *ops) Dependents(ctx context.Context, prerequisiteID id.JobID) ([]id.JobID, error) {
	return o.edgeIDs(ctx,
		"SELECT dependent_id FROM latch_dependencies WHERE prerequisite_id = $1 ORDER BY seq",
		prerequisiteID,
	)
}

// Prerequisites returns the IDs of jobs the given job depends on.
func (o *ops) Prerequisites(ctx context.Context, dependentID id.JobID) ([]id.JobID, error) {
	return o.edgeIDs(ctx,
		"SELECT prerequisite_id FROM latch_dependencies WHERE dependent_id = $1 ORDER BY seq",
		dependentID,
	)
}

func (o *ops) edgeIDs(ctx context.Context, query string, jobID id.JobID) ([]id.JobID, error) {
	rows, err := o.q.Query(ctx, query, jobID.String())
	if err != nil {
		return nil, fmt.Errorf("latch/postgres: dependency edges: %w", err)
	}
	defer rows.Close()

	var ids []id.JobID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("latch/postgres: dependency edges: %w", err)
		}
		parsed, err := id.ParseJobID(raw)
		if err != nil {
			return nil, fmt.Errorf("latch/postgres: dependency edges: %w", err)
		}
		ids = append(ids, parsed)
	}
	return ids, rows.Err()
}

// AllPrerequisitesSucceeded reports whether every prerequisite of the
// given job has succeeded. Jobs without prerequisites trivially pass.
func (o *ops) AllPrerequisitesSucceeded(ctx context.Context, dependentID id.JobID) (bool, error) {
	var unmet int
	err := o.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM latch_dependencies d
		LEFT JOIN latch_jobs j ON j.id = d.prerequisite_id
		WHERE d.dependent_id = $1
		  AND (j.state IS NULL OR j.state != $2)`,
		dependentID.String(), string(job.StateSucceeded),
	).Scan(&unmet)
	if err != nil {
		return false, fmt.Errorf("latch/postgres: prerequisites succeeded: %w", err)
	}
	return unmet == 0, nil
}

// PrerequisiteOutputs returns recorded prerequisite outputs in edge order.
func (o *ops) PrerequisiteOutputs(ctx context.Context, dependentID id.JobID) ([]payload.Payload, error) {
	rows, err := o.q.Query(ctx, `
		SELECT j.output
		FROM latch_dependencies d
		JOIN latch_jobs j ON j.id = d.prerequisite_id
		WHERE d.dependent_id = $1
		ORDER BY d.seq`,
		dependentID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("latch/postgres: prerequisite outputs: %w", err)
	}
	defer rows.Close()

	var outputs []payload.Payload
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("latch/postgres: prerequisite outputs: %w", err)
		}
		if raw == nil {
			outputs = append(outputs, payload.Payload{})
			continue
		}
		p, err := payload.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("latch/postgres: prerequisite outputs: %w", err)
		}
		outputs = append(outputs, p)
	}
	return outputs, rows.Err()
}

// ListEligible returns enqueued jobs due to run at now: one-shot jobs past
// RunAt, periodic jobs past their next period boundary or never anchored.
func (o *ops) ListEligible(ctx context.Context, queues []string, now time.Time, limit int) ([]*job.JobSpec, error) {
	if len(queues) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT %s FROM latch_jobs
		WHERE state = $1
		  AND run_at <= $2
		  AND queue = ANY($3)
		  AND (interval_ms = 0
		       OR period_start IS NULL
		       OR period_start + interval_ms * interval '1 millisecond' <= $2)
		ORDER BY run_at ASC
		LIMIT $4`,
		jobColumns,
	)
	return o.queryJobs(ctx, query, string(job.StateEnqueued), now, queues, limit)
}

// ListUnnotified returns enqueued jobs not yet handed to the schedulers.
func (o *ops) ListUnnotified(ctx context.Context, limit int) ([]*job.JobSpec, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM latch_jobs
		WHERE state = $1 AND notified_at IS NULL
		ORDER BY created_at ASC
		LIMIT $2`,
		jobColumns,
	)
	return o.queryJobs(ctx, query, string(job.StateEnqueued), limit)
}

// MarkNotified records the hand-off time for the given jobs.
func (o *ops) MarkNotified(ctx context.Context, ids []id.JobID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, jobID := range ids {
		raw[i] = jobID.String()
	}
	_, err := o.q.Exec(ctx,
		"UPDATE latch_jobs SET notified_at = $1, updated_at = $2 WHERE id = ANY($3)",
		at, time.Now().UTC(), raw,
	)
	if err != nil {
		return fmt.Errorf("latch/postgres: mark notified: %w", err)
	}
	return nil
}

// HeartbeatJob refreshes the liveness timestamp of a running job.
func (o *ops) HeartbeatJob(ctx context.Context, jobID id.JobID, at time.Time) error {
	_, err := o.q.Exec(ctx,
		"UPDATE latch_jobs SET heartbeat_at = $1, updated_at = $2 WHERE id = $3 AND state = $4",
		at, time.Now().UTC(), jobID.String(), string(job.StateRunning),
	)
	if err != nil {
		return fmt.Errorf("latch/postgres: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat went stale. Jobs
// that never recorded a heartbeat fall back to their claim time.
func (o *ops) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.JobSpec, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM latch_jobs
		WHERE state = $1
		  AND COALESCE(heartbeat_at, started_at, 'epoch'::timestamptz) < $2
		ORDER BY created_at ASC`,
		jobColumns,
	)
	cutoff := time.Now().UTC().Add(-threshold)
	return o.queryJobs(ctx, query, string(job.StateRunning), cutoff)
}

// ListJobsByState returns jobs matching the given state.
func (o *ops) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.JobSpec, error) {
	query := fmt.Sprintf("SELECT %s FROM latch_jobs WHERE state = $1", jobColumns)
	args := []any{string(state)}

	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}
	query += " ORDER BY created_at ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return o.queryJobs(ctx, query, args...)
}

// CountJobs returns the number of jobs matching the given options.
func (o *ops) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := "SELECT COUNT(*) FROM latch_jobs WHERE 1=1"
	var args []any
	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}
	if opts.State != "" {
		args = append(args, string(opts.State))
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}

	var count int64
	if err := o.q.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("latch/postgres: count jobs: %w", err)
	}
	return count, nil
}

func (o *ops) queryJobs(ctx context.Context, query string, args ...any) ([]*job.JobSpec, error) {
	rows, err := o.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("latch/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.JobSpec
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("latch/postgres: list jobs: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
