package sqlite

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
		return fmt.Errorf("latch/sqlite: create job: %w", err)
	}
	query := fmt.Sprintf(
		"INSERT INTO latch_jobs (%s) VALUES (%s)",
		jobColumns, placeholders(len(args)),
	)
	if _, err := o.q.ExecContext(ctx, query, args...); err != nil {
		if isDuplicateKey(err) {
			return latch.ErrJobAlreadyExists
		}
		return fmt.Errorf("latch/sqlite: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (o *ops) GetJob(ctx context.Context, jobID id.JobID) (*job.JobSpec, error) {
	query := fmt.Sprintf("SELECT %s FROM latch_jobs WHERE id = ?", jobColumns)
	j, err := scanJob(o.q.QueryRowContext(ctx, query, jobID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, latch.ErrJobNotFound
		}
		return nil, fmt.Errorf("latch/sqlite: get job: %w", err)
	}
	return j, nil
}

// GetState retrieves just the state of a job.
func (o *ops) GetState(ctx context.Context, jobID id.JobID) (job.State, error) {
	var state string
	err := o.q.QueryRowContext(ctx,
		"SELECT state FROM latch_jobs WHERE id = ?", jobID.String(),
	).Scan(&state)
	if err != nil {
		if isNoRows(err) {
			return "", latch.ErrJobNotFound
		}
		return "", fmt.Errorf("latch/sqlite: get state: %w", err)
	}
	return job.State(state), nil
}

// UpdateJob persists changes to an existing job and refreshes UpdatedAt.
func (o *ops) UpdateJob(ctx context.Context, j *job.JobSpec) error {
	j.UpdatedAt = time.Now().UTC()
	args, err := jobArgs(j)
	if err != nil {
		return fmt.Errorf("latch/sqlite: update job: %w", err)
	}

	query := `
		UPDATE latch_jobs SET
			worker = ?, queue = ?, input = ?, output = ?, state = ?,
			run_attempt_count = ?, period_start_ms = ?, interval_ms = ?,
			merger = ?, run_at_ms = ?, notified_at_ms = ?, scope_tenant = ?,
			last_error = ?, timeout_ms = ?, started_at_ms = ?,
			heartbeat_at_ms = ?, completed_at_ms = ?, created_at_ms = ?,
			updated_at_ms = ?
		WHERE id = ?`
	// jobArgs puts the id first; the UPDATE wants it last.
	args = append(args[1:], args[0])

	res, err := o.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("latch/sqlite: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return latch.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job; dependency edges go with it via FK cascade.
func (o *ops) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := o.q.ExecContext(ctx,
		"DELETE FROM latch_jobs WHERE id = ?", jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("latch/sqlite: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return latch.ErrJobNotFound
	}
	return nil
}

// AddDependency persists a dependency edge.
func (o *ops) AddDependency(ctx context.Context, d job.Dependency) error {
	_, err := o.q.ExecContext(ctx,
		"INSERT INTO latch_dependencies (dependent_id, prerequisite_id) VALUES (?, ?)",
		d.DependentID.String(), d.PrerequisiteID.String(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return latch.ErrDependencyExists
		}
		return fmt.Errorf("latch/sqlite: add dependency: %w", err)
	}
	return nil
}

// Dependents returns the IDs of jobs that depend on the given job.
func (o *ops) Dependents(ctx context.Context, prerequisiteID id.JobID) ([]id.JobID, error) {
	return o.edgeIDs(ctx,
		"SELECT dependent_id FROM latch_dependencies WHERE prerequisite_id = ? ORDER BY seq",
		prerequisiteID,
	)
}

// Prerequisites returns the IDs of jobs the given job depends on.
func (o *ops) Prerequisites(ctx context.Context, dependentID id.JobID) ([]id.JobID, error) {
	return o.edgeIDs(ctx,
		"SELECT prerequisite_id FROM latch_dependencies WHERE dependent_id = ? ORDER BY seq",
		dependentID,
	)
}

func (o *ops) edgeIDs(ctx context.Context, query string, jobID id.JobID) ([]id.JobID, error) {
	rows, err := o.q.QueryContext(ctx, query, jobID.String())
	if err != nil {
		return nil, fmt.Errorf("latch/sqlite: dependency edges: %w", err)
	}
	defer rows.Close()

	var ids []id.JobID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("latch/sqlite: dependency edges: %w", err)
		}
		parsed, err := id.ParseJobID(raw)
		if err != nil {
			return nil, fmt.Errorf("latch/sqlite: dependency edges: %w", err)
		}
		ids = append(ids, parsed)
	}
	return ids, rows.Err()
}

// AllPrerequisitesSucceeded reports whether every prerequisite of the
// given job has succeeded. Jobs without prerequisites trivially pass.
func (o *ops) AllPrerequisitesSucceeded(ctx context.Context, dependentID id.JobID) (bool, error) {
	var unmet int
	err := o.q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM latch_dependencies d
		LEFT JOIN latch_jobs j ON j.id = d.prerequisite_id
		WHERE d.dependent_id = ?
		  AND (j.state IS NULL OR j.state != ?)`,
		dependentID.String(), string(job.StateSucceeded),
	).Scan(&unmet)
	if err != nil {
		return false, fmt.Errorf("latch/sqlite: prerequisites succeeded: %w", err)
	}
	return unmet == 0, nil
}

// PrerequisiteOutputs returns recorded prerequisite outputs in edge order.
func (o *ops) PrerequisiteOutputs(ctx context.Context, dependentID id.JobID) ([]payload.Payload, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT j.output
		FROM latch_dependencies d
		JOIN latch_jobs j ON j.id = d.prerequisite_id
		WHERE d.dependent_id = ?
		ORDER BY d.seq`,
		dependentID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("latch/sqlite: prerequisite outputs: %w", err)
	}
	defer rows.Close()

	var outputs []payload.Payload
	for rows.Next() {
		var raw *string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("latch/sqlite: prerequisite outputs: %w", err)
		}
		if raw == nil {
			outputs = append(outputs, payload.Payload{})
			continue
		}
		p, err := payload.Decode([]byte(*raw))
		if err != nil {
			return nil, fmt.Errorf("latch/sqlite: prerequisite outputs: %w", err)
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
	nowMS := timeToMS(now)

	args := make([]any, 0, len(queues)+4)
	args = append(args, string(job.StateEnqueued), nowMS)
	for _, q := range queues {
		args = append(args, q)
	}
	args = append(args, nowMS, limit)

	query := fmt.Sprintf(`
		SELECT %s FROM latch_jobs
		WHERE state = ?
		  AND run_at_ms <= ?
		  AND queue IN (%s)
		  AND (interval_ms = 0 OR period_start_ms = 0 OR period_start_ms + interval_ms <= ?)
		ORDER BY run_at_ms ASC
		LIMIT ?`,
		jobColumns, placeholders(len(queues)),
	)

	return o.queryJobs(ctx, query, args...)
}

// ListUnnotified returns enqueued jobs not yet handed to the schedulers.
func (o *ops) ListUnnotified(ctx context.Context, limit int) ([]*job.JobSpec, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM latch_jobs
		WHERE state = ? AND notified_at_ms IS NULL
		ORDER BY created_at_ms ASC
		LIMIT ?`,
		jobColumns,
	)
	return o.queryJobs(ctx, query, string(job.StateEnqueued), limit)
}

// MarkNotified records the hand-off time for the given jobs.
func (o *ops) MarkNotified(ctx context.Context, ids []id.JobID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+2)
	args = append(args, at.UnixMilli(), timeToMS(time.Now().UTC()))
	for _, jobID := range ids {
		args = append(args, jobID.String())
	}
	query := fmt.Sprintf(
		"UPDATE latch_jobs SET notified_at_ms = ?, updated_at_ms = ? WHERE id IN (%s)",
		placeholders(len(ids)),
	)
	if _, err := o.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("latch/sqlite: mark notified: %w", err)
	}
	return nil
}

// HeartbeatJob refreshes the liveness timestamp of a running job.
func (o *ops) HeartbeatJob(ctx context.Context, jobID id.JobID, at time.Time) error {
	_, err := o.q.ExecContext(ctx,
		"UPDATE latch_jobs SET heartbeat_at_ms = ?, updated_at_ms = ? WHERE id = ? AND state = ?",
		at.UnixMilli(), timeToMS(time.Now().UTC()), jobID.String(), string(job.StateRunning),
	)
	if err != nil {
		return fmt.Errorf("latch/sqlite: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat went stale. Jobs
// that never recorded a heartbeat fall back to their claim time.
func (o *ops) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.JobSpec, error) {
	cutoff := time.Now().UTC().Add(-threshold).UnixMilli()
	query := fmt.Sprintf(`
		SELECT %s FROM latch_jobs
		WHERE state = ?
		  AND COALESCE(heartbeat_at_ms, started_at_ms, 0) < ?
		ORDER BY created_at_ms ASC`,
		jobColumns,
	)
	return o.queryJobs(ctx, query, string(job.StateRunning), cutoff)
}

// ListJobsByState returns jobs matching the given state.
func (o *ops) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.JobSpec, error) {
	query := fmt.Sprintf("SELECT %s FROM latch_jobs WHERE state = ?", jobColumns)
	args := []any{string(state)}

	if opts.Queue != "" {
		query += " AND queue = ?"
		args = append(args, opts.Queue)
	}
	query += " ORDER BY created_at_ms ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	return o.queryJobs(ctx, query, args...)
}

// CountJobs returns the number of jobs matching the given options.
func (o *ops) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := "SELECT COUNT(*) FROM latch_jobs WHERE 1=1"
	var args []any
	if opts.Queue != "" {
		query += " AND queue = ?"
		args = append(args, opts.Queue)
	}
	if opts.State != "" {
		query += " AND state = ?"
		args = append(args, string(opts.State))
	}

	var count int64
	if err := o.q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("latch/sqlite: count jobs: %w", err)
	}
	return count, nil
}

func (o *ops) queryJobs(ctx context.Context, query string, args ...any) ([]*job.JobSpec, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("latch/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.JobSpec
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("latch/sqlite: list jobs: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
