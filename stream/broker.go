package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/latchq/latch/ext"
	"github.com/latchq/latch/job"
)

const (
	// DefaultBufferSize is the per-subscriber channel buffer.
	DefaultBufferSize = 256

	// DefaultCredits is the initial flow-control credit grant.
	DefaultCredits = 1000
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Broker)(nil)
	_ ext.JobEnqueued    = (*Broker)(nil)
	_ ext.JobStarted     = (*Broker)(nil)
	_ ext.JobExecuted    = (*Broker)(nil)
	_ ext.JobUnblocked   = (*Broker)(nil)
	_ ext.JobRescheduled = (*Broker)(nil)
	_ ext.JobRetrying    = (*Broker)(nil)
	_ ext.JobFailed      = (*Broker)(nil)
	_ ext.JobCancelled   = (*Broker)(nil)
	_ ext.JobDLQ         = (*Broker)(nil)
	_ ext.Shutdown       = (*Broker)(nil)
)

// Broker fans lifecycle events out to subscribers over topics. Register
// it on an engine with engine.WithExtension(broker) and attach consumers
// with Subscribe or SubscribeTo.
type Broker struct {
	registry *TopicRegistry

	// subscribers indexes all subscribers by ID regardless of topic.
	subscribers sync.Map // subscriberID → *Subscriber

	bufferSize     int
	defaultCredits int64

	nextID atomic.Uint64

	totalPublished atomic.Int64
	totalDropped   atomic.Int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber channel buffer size.
func WithBufferSize(n int) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithDefaultCredits sets the initial credit grant for new subscribers.
func WithDefaultCredits(n int64) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.defaultCredits = n
		}
	}
}

// NewBroker creates an event broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		registry:       NewTopicRegistry(),
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream" }

// Subscribe creates a subscriber on the firehose topic.
func (b *Broker) Subscribe() *Subscriber {
	return b.SubscribeTo(TopicFirehose)
}

// SubscribeTo creates a subscriber on the given topics.
func (b *Broker) SubscribeTo(topics ...string) *Subscriber {
	id := fmt.Sprintf("sub_%d", b.nextID.Add(1))
	sub := NewSubscriber(id, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(id, sub)
	for _, topic := range topics {
		b.registry.Subscribe(topic, sub)
	}
	return sub
}

// AddSubscription subscribes an existing subscriber to an additional
// topic. Returns false if the subscriber is not registered.
func (b *Broker) AddSubscription(subscriberID, topic string) bool {
	v, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return false
	}
	b.registry.Subscribe(topic, v.(*Subscriber))
	return true
}

// Unsubscribe removes a subscriber from one topic. The subscriber stays
// registered and keeps receiving events for its remaining topics.
func (b *Broker) Unsubscribe(topic, subscriberID string) {
	b.registry.Unsubscribe(topic, subscriberID)
}

// RemoveSubscriber detaches a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.registry.UnsubscribeAll(subscriberID)
	if v, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		v.(*Subscriber).Close()
	}
}

// GetSubscriber looks up a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	v, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return v.(*Subscriber), true
}

// BrokerStats reports broker-wide counters.
type BrokerStats struct {
	Subscribers int   `json:"subscribers"`
	Topics      int   `json:"topics"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns a snapshot of broker counters.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		Subscribers: count,
		Topics:      b.registry.TopicCount(),
		Published:   b.totalPublished.Load(),
		Dropped:     b.totalDropped.Load(),
	}
}

// Publish delivers an event to a single topic's subscribers. Returns the
// number of subscribers that received it.
func (b *Broker) Publish(topic string, evt *Event) int {
	delivered := b.registry.Publish(topic, evt)
	b.totalPublished.Add(1)
	if delivered == 0 {
		b.totalDropped.Add(1)
	}
	return delivered
}

// publish fans an event out to the job, queue, jobs, and firehose topics.
func (b *Broker) publish(typ EventType, j *job.JobSpec, data JobEventData) {
	evt := &Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data:      mustMarshal(data),
	}

	topics := []string{
		TopicFirehose,
		TopicJobs,
		JobTopic(j.ID.String()),
		QueueTopic(j.Queue),
	}

	delivered := b.registry.Broadcast(topics, evt)
	b.totalPublished.Add(1)
	if delivered == 0 {
		b.totalDropped.Add(1)
	}
}

func (b *Broker) jobData(j *job.JobSpec) JobEventData {
	return JobEventData{
		JobID:       j.ID.String(),
		Worker:      j.Worker,
		Queue:       j.Queue,
		ScopeTenant: j.ScopeTenant,
	}
}

// OnJobEnqueued implements ext.JobEnqueued.
func (b *Broker) OnJobEnqueued(ctx context.Context, j *job.JobSpec) error {
	b.publish(EventJobEnqueued, j, b.jobData(j))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (b *Broker) OnJobStarted(ctx context.Context, j *job.JobSpec) error {
	data := b.jobData(j)
	data.Attempt = j.RunAttemptCount
	b.publish(EventJobStarted, j, data)
	return nil
}

// OnJobExecuted implements ext.JobExecuted.
func (b *Broker) OnJobExecuted(ctx context.Context, j *job.JobSpec, success, reschedule bool) error {
	data := b.jobData(j)
	data.Success = success
	data.Reschedule = reschedule
	data.Attempt = j.RunAttemptCount
	b.publish(EventJobExecuted, j, data)
	return nil
}

// OnJobUnblocked implements ext.JobUnblocked.
func (b *Broker) OnJobUnblocked(ctx context.Context, j *job.JobSpec) error {
	b.publish(EventJobUnblocked, j, b.jobData(j))
	return nil
}

// OnJobRescheduled implements ext.JobRescheduled.
func (b *Broker) OnJobRescheduled(ctx context.Context, j *job.JobSpec, nextPeriodStart time.Time) error {
	data := b.jobData(j)
	data.NextPeriodStart = nextPeriodStart.Format(time.RFC3339Nano)
	b.publish(EventJobRescheduled, j, data)
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (b *Broker) OnJobRetrying(ctx context.Context, j *job.JobSpec, attempt int, nextRunAt time.Time) error {
	data := b.jobData(j)
	data.Attempt = attempt
	data.NextRunAt = nextRunAt.Format(time.RFC3339Nano)
	b.publish(EventJobRetrying, j, data)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (b *Broker) OnJobFailed(ctx context.Context, j *job.JobSpec, err error) error {
	data := b.jobData(j)
	if err != nil {
		data.Error = err.Error()
	}
	b.publish(EventJobFailed, j, data)
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (b *Broker) OnJobCancelled(ctx context.Context, j *job.JobSpec) error {
	b.publish(EventJobCancelled, j, b.jobData(j))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (b *Broker) OnJobDLQ(ctx context.Context, j *job.JobSpec, err error) error {
	data := b.jobData(j)
	if err != nil {
		data.Error = err.Error()
	}
	b.publish(EventJobDLQ, j, data)
	return nil
}

// OnShutdown implements ext.Shutdown. Closes all subscribers.
func (b *Broker) OnShutdown(ctx context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		b.registry.UnsubscribeAll(key.(string))
		value.(*Subscriber).Close()
		b.subscribers.Delete(key)
		return true
	})
	return nil
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// JobEventData contains only marshalable fields.
		panic(fmt.Sprintf("stream: marshal event data: %v", err))
	}
	return data
}
