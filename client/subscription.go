package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/latchq/latch/remote"
	"github.com/latchq/latch/stream"
)

// Subscribe subscribes to a stream topic and returns a channel of events.
// The channel is closed when the client disconnects or Unsubscribe is called.
//
// Topics follow the latch stream convention:
//   - "job:<jobID>"  — events for a specific job
//   - "queue:<name>" — all events for a queue
//   - "jobs"         — all job lifecycle events
//   - "firehose"     — everything
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan *stream.Event, error) {
	_, err := c.request(ctx, remote.MethodSubscribe, remote.SubscribeRequest{
		Channel: channel,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", channel, err)
	}

	ch := make(chan *stream.Event, 64)
	c.subs.Store(channel, ch)

	return ch, nil
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	_, err := c.request(ctx, remote.MethodUnsubscribe, remote.UnsubscribeRequest{
		Channel: channel,
	})

	// Close and remove the local channel regardless.
	if val, ok := c.subs.LoadAndDelete(channel); ok {
		close(val.(chan *stream.Event))
	}

	return err
}

// Watch subscribes to lifecycle events for a specific job. This is a
// convenience method that subscribes to "job:<jobID>".
func (c *Client) Watch(ctx context.Context, jobID string) (<-chan *stream.Event, error) {
	return c.Subscribe(ctx, stream.JobTopic(jobID))
}

// Stats retrieves broker and job statistics from the server.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.request(ctx, remote.MethodStats, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
