package api

import (
	"encoding/json"
	"time"
)

// SubmitJobRequest is the body for POST /v1/jobs.
type SubmitJobRequest struct {
	Worker        string          `json:"worker"`
	Input         json.RawMessage `json:"input,omitempty"`
	Queue         string          `json:"queue,omitempty"`
	IntervalMS    int64           `json:"interval_ms,omitempty"`
	Merger        string          `json:"merger,omitempty"`
	Prerequisites []string        `json:"prerequisites,omitempty"`
	TimeoutMS     int64           `json:"timeout_ms,omitempty"`
	RunAt         *time.Time      `json:"run_at,omitempty"`
}

// SubmitJobResponse confirms job creation.
type SubmitJobResponse struct {
	JobID string `json:"job_id"`
	Queue string `json:"queue"`
	State string `json:"state"`
}

// JobCountsResponse reports job counts grouped by state.
type JobCountsResponse struct {
	Enqueued  int64 `json:"enqueued"`
	Running   int64 `json:"running"`
	Blocked   int64 `json:"blocked"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// PurgeDLQRequest is the body for POST /v1/dlq/purge.
type PurgeDLQRequest struct {
	// OlderThan removes entries that failed before now minus this
	// duration, e.g. "720h". Empty purges everything.
	OlderThan string `json:"older_than,omitempty"`
}

// PurgeDLQResponse reports how many entries were removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// DLQCountResponse reports the total number of DLQ entries.
type DLQCountResponse struct {
	Count int64 `json:"count"`
}

// StatsResponse aggregates statistics for jobs and the DLQ.
type StatsResponse struct {
	Jobs     JobCountsResponse `json:"jobs"`
	DLQCount int64             `json:"dlq_count"`
}

// defaultLimit caps list endpoints that did not specify a limit.
func defaultLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
