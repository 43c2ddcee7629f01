package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/latchq/latch/remote"
)

// JobResult contains the result of a submit operation.
type JobResult struct {
	JobID string `json:"job_id"`
	Queue string `json:"queue"`
	State string `json:"state"`
}

// Submit submits a job to the remote latch server.
func (c *Client) Submit(ctx context.Context, worker string, input any, opts ...SubmitOption) (*JobResult, error) {
	req := remote.JobSubmitRequest{Worker: worker}
	if input != nil {
		raw, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("marshal input: %w", err)
		}
		req.Input = raw
	}
	for _, opt := range opts {
		opt(&req)
	}

	resp, reqErr := c.request(ctx, remote.MethodJobSubmit, req)
	if reqErr != nil {
		return nil, reqErr
	}

	var result JobResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &result, nil
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, jobID string) (json.RawMessage, error) {
	resp, err := c.request(ctx, remote.MethodJobGet, remote.JobGetRequest{
		JobID: jobID,
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// CancelJob cancels a job and everything depending on it.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	_, err := c.request(ctx, remote.MethodJobCancel, remote.JobCancelRequest{
		JobID: jobID,
	})
	return err
}

// ListJobs lists jobs in the given state.
func (c *Client) ListJobs(ctx context.Context, state string, limit, offset int) (json.RawMessage, error) {
	resp, err := c.request(ctx, remote.MethodJobList, remote.JobListRequest{
		State:  state,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SubmitOption configures a submit request.
type SubmitOption func(*remote.JobSubmitRequest)

// WithQueue sets the target queue.
func WithQueue(queue string) SubmitOption {
	return func(r *remote.JobSubmitRequest) { r.Queue = queue }
}

// WithInterval makes the job periodic with the given interval.
func WithInterval(interval time.Duration) SubmitOption {
	return func(r *remote.JobSubmitRequest) { r.IntervalMS = interval.Milliseconds() }
}

// WithPrerequisites declares jobs that must succeed before this one runs.
func WithPrerequisites(jobIDs ...string) SubmitOption {
	return func(r *remote.JobSubmitRequest) {
		r.Prerequisites = append(r.Prerequisites, jobIDs...)
	}
}

// WithMerger selects the input merger used to combine prerequisite outputs.
func WithMerger(name string) SubmitOption {
	return func(r *remote.JobSubmitRequest) { r.Merger = name }
}

// WithTimeout bounds a single execution attempt.
func WithTimeout(timeout time.Duration) SubmitOption {
	return func(r *remote.JobSubmitRequest) { r.TimeoutMS = timeout.Milliseconds() }
}

// WithRunAt delays the first execution until the given time.
func WithRunAt(at time.Time) SubmitOption {
	return func(r *remote.JobSubmitRequest) { r.RunAt = &at }
}
