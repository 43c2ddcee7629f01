// Package stream provides a real-time event broker for latch lifecycle
// events. It bridges the ext.Extension system to connected clients via
// topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobEnqueued    EventType = "job.enqueued"
	EventJobStarted     EventType = "job.started"
	EventJobExecuted    EventType = "job.executed"
	EventJobUnblocked   EventType = "job.unblocked"
	EventJobRescheduled EventType = "job.rescheduled"
	EventJobRetrying    EventType = "job.retrying"
	EventJobFailed      EventType = "job.failed"
	EventJobCancelled   EventType = "job.cancelled"
	EventJobDLQ         EventType = "job.dlq"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity-specific channel this event belongs to.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// NewEvent builds an event envelope for the given topic. The type is
// derived from the topic for non-job events.
func NewEvent(topic string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      EventType(topic),
		Timestamp: time.Now().UTC(),
		Topic:     topic,
		Data:      raw,
	}, nil
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID           string `json:"job_id"`
	Worker          string `json:"worker"`
	Queue           string `json:"queue"`
	ScopeTenant     string `json:"scope_tenant,omitempty"`
	Success         bool   `json:"success,omitempty"`
	Reschedule      bool   `json:"reschedule,omitempty"`
	Attempt         int    `json:"attempt,omitempty"`
	NextRunAt       string `json:"next_run_at,omitempty"`
	NextPeriodStart string `json:"next_period_start,omitempty"`
	Error           string `json:"error,omitempty"`
}
