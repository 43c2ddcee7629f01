package dlq

import (
	"time"

	"github.com/latchq/latch/id"
	"github.com/latchq/latch/payload"
)

// Entry represents a job that failed terminally and was moved to the
// dead letter queue for inspection or replay.
type Entry struct {
	ID              id.DLQID        `json:"id"`
	JobID           id.JobID        `json:"job_id"`
	Worker          string          `json:"worker"`
	Queue           string          `json:"queue"`
	Input           payload.Payload `json:"input"`
	Error           string          `json:"error"`
	RunAttemptCount int             `json:"run_attempt_count"`
	ScopeTenant     string          `json:"scope_tenant,omitempty"`
	FailedAt        time.Time       `json:"failed_at"`
	ReplayedAt      *time.Time      `json:"replayed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
