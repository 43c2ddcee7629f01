package postgres

import (
	"fmt"
	"time"

	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
	"github.com/latchq/latch/payload"
)

const jobColumns = `id, worker, queue, input, output, state, run_attempt_count,
	period_start, interval_ms, merger, run_at, notified_at,
	scope_tenant, last_error, timeout_ms, started_at, heartbeat_at,
	completed_at, created_at, updated_at`

const dlqColumns = `id, job_id, worker, queue, input, error, run_attempt_count,
	scope_tenant, failed_at, replayed_at, created_at`

// scanner covers pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func jobArgs(j *job.JobSpec) ([]any, error) {
	input, err := j.Input.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	var output []byte
	if j.Output != nil {
		output, err = j.Output.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode output: %w", err)
		}
	}
	return []any{
		j.ID.String(),
		j.Worker,
		j.Queue,
		input,
		output,
		string(j.State),
		j.RunAttemptCount,
		zeroToNil(j.PeriodStart),
		j.Interval.Milliseconds(),
		j.Merger,
		j.RunAt,
		j.NotifiedAt,
		j.ScopeTenant,
		j.LastError,
		j.Timeout.Milliseconds(),
		j.StartedAt,
		j.HeartbeatAt,
		j.CompletedAt,
		j.CreatedAt,
		j.UpdatedAt,
	}, nil
}

func scanJob(row scanner) (*job.JobSpec, error) {
	var (
		j           job.JobSpec
		rawID       string
		rawState    string
		input       []byte
		output      []byte
		periodStart *time.Time
		intervalMS  int64
		timeoutMS   int64
	)

	err := row.Scan(
		&rawID, &j.Worker, &j.Queue, &input, &output, &rawState,
		&j.RunAttemptCount, &periodStart, &intervalMS, &j.Merger, &j.RunAt,
		&j.NotifiedAt, &j.ScopeTenant, &j.LastError, &timeoutMS,
		&j.StartedAt, &j.HeartbeatAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.ID, err = id.ParseJobID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	j.State = job.State(rawState)
	j.Input, err = payload.Decode(input)
	if err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if output != nil {
		j.Output, err = payload.Decode(output)
		if err != nil {
			return nil, fmt.Errorf("decode output: %w", err)
		}
	}
	if periodStart != nil {
		j.PeriodStart = periodStart.UTC()
	}
	j.Interval = time.Duration(intervalMS) * time.Millisecond
	j.Timeout = time.Duration(timeoutMS) * time.Millisecond
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
		input,
		e.Error,
		e.RunAttemptCount,
		e.ScopeTenant,
		e.FailedAt,
		e.ReplayedAt,
		e.CreatedAt,
	}, nil
}

func scanDLQ(row scanner) (*dlq.Entry, error) {
	var (
		e        dlq.Entry
		rawID    string
		rawJobID string
		input    []byte
	)

	err := row.Scan(
		&rawID, &rawJobID, &e.Worker, &e.Queue, &input, &e.Error,
		&e.RunAttemptCount, &e.ScopeTenant, &e.FailedAt, &e.ReplayedAt,
		&e.CreatedAt,
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
	e.Input, err = payload.Decode(input)
	if err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return &e, nil
}

// zeroToNil maps the zero time to NULL so an unanchored period is
// distinguishable in SQL.
func zeroToNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
