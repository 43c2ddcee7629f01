package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
	"github.com/latchq/latch/payload"
)

const jobColumns = `id, worker, queue, input, output, state, run_attempt_count,
	period_start_ms, interval_ms, merger, run_at_ms, notified_at_ms,
	scope_tenant, last_error, timeout_ms, started_at_ms, heartbeat_at_ms,
	completed_at_ms, created_at_ms, updated_at_ms`

const dlqColumns = `id, job_id, worker, queue, input, error, run_attempt_count,
	scope_tenant, failed_at_ms, replayed_at_ms, created_at_ms`

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func jobArgs(j *job.JobSpec) ([]any, error) {
	input, err := j.Input.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	var output any
	if j.Output != nil {
		encoded, err := j.Output.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode output: %w", err)
		}
		output = string(encoded)
	}
	return []any{
		j.ID.String(),
		j.Worker,
		j.Queue,
		string(input),
		output,
		string(j.State),
		j.RunAttemptCount,
		timeToMS(j.PeriodStart),
		j.Interval.Milliseconds(),
		j.Merger,
		timeToMS(j.RunAt),
		ptrToMS(j.NotifiedAt),
		j.ScopeTenant,
		j.LastError,
		j.Timeout.Milliseconds(),
		ptrToMS(j.StartedAt),
		ptrToMS(j.HeartbeatAt),
		ptrToMS(j.CompletedAt),
		timeToMS(j.CreatedAt),
		timeToMS(j.UpdatedAt),
	}, nil
}

func scanJob(row scanner) (*job.JobSpec, error) {
	var (
		j           job.JobSpec
		rawID       string
		rawState    string
		input       string
		output      sql.NullString
		periodMS    int64
		intervalMS  int64
		runAtMS     int64
		notifiedMS  sql.NullInt64
		timeoutMS   int64
		startedMS   sql.NullInt64
		heartbeatMS sql.NullInt64
		completeMS  sql.NullInt64
		createdMS   int64
		updatedMS   int64
	)

	err := row.Scan(
		&rawID, &j.Worker, &j.Queue, &input, &output, &rawState,
		&j.RunAttemptCount, &periodMS, &intervalMS, &j.Merger, &runAtMS,
		&notifiedMS, &j.ScopeTenant, &j.LastError, &timeoutMS,
		&startedMS, &heartbeatMS, &completeMS, &createdMS, &updatedMS,
	)
	if err != nil {
		return nil, err
	}

	j.ID, err = id.ParseJobID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	j.State = job.State(rawState)
	j.Input, err = payload.Decode([]byte(input))
	if err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if output.Valid {
		j.Output, err = payload.Decode([]byte(output.String))
		if err != nil {
			return nil, fmt.Errorf("decode output: %w", err)
		}
	}
	j.PeriodStart = msToTime(periodMS)
	j.Interval = time.Duration(intervalMS) * time.Millisecond
	j.RunAt = msToTime(runAtMS)
	j.NotifiedAt = msToPtr(notifiedMS)
	j.Timeout = time.Duration(timeoutMS) * time.Millisecond
	j.StartedAt = msToPtr(startedMS)
	j.HeartbeatAt = msToPtr(heartbeatMS)
	j.CompletedAt = msToPtr(completeMS)
	j.CreatedAt = msToTime(createdMS)
	j.UpdatedAt = msToTime(updatedMS)
	return &j, nil
}

func dlqArgs(e *dlq.Entry) ([]any, error) {
	input, err := e.Input.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	return []any{
		e.ID.String(),
		e.JobID.String(),
		e.Worker,
		e.Queue,
		string(input),
		e.Error,
		e.RunAttemptCount,
		e.ScopeTenant,
		timeToMS(e.FailedAt),
		ptrToMS(e.ReplayedAt),
		timeToMS(e.CreatedAt),
	}, nil
}

func scanDLQ(row scanner) (*dlq.Entry, error) {
	var (
		e          dlq.Entry
		rawID      string
		rawJobID   string
		input      string
		failedMS   int64
		replayedMS sql.NullInt64
		createdMS  int64
	)

	err := row.Scan(
		&rawID, &rawJobID, &e.Worker, &e.Queue, &input, &e.Error,
		&e.RunAttemptCount, &e.ScopeTenant, &failedMS, &replayedMS, &createdMS,
	)
	if err != nil {
		return nil, err
	}

	e.ID, err = id.ParseDLQID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse dlq id: %w", err)
	}
	e.JobID, err = id.ParseJobID(rawJobID)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	e.Input, err = payload.Decode([]byte(input))
	if err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	e.FailedAt = msToTime(failedMS)
	e.ReplayedAt = msToPtr(replayedMS)
	e.CreatedAt = msToTime(createdMS)
	return &e, nil
}

// timeToMS converts to unix milliseconds, mapping the zero time to 0.
func timeToMS(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// msToTime is the inverse of timeToMS.
func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func ptrToMS(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func msToPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}
