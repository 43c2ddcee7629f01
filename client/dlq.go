package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/latchq/latch/remote"
)

// ListDLQ lists dead letter entries.
func (c *Client) ListDLQ(ctx context.Context, limit, offset int) (json.RawMessage, error) {
	resp, err := c.request(ctx, remote.MethodDLQList, remote.DLQListRequest{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ReplayDLQ resubmits a dead letter entry as a fresh job.
func (c *Client) ReplayDLQ(ctx context.Context, entryID string) (*JobResult, error) {
	resp, err := c.request(ctx, remote.MethodDLQReplay, remote.DLQReplayRequest{
		EntryID: entryID,
	})
	if err != nil {
		return nil, err
	}

	var result JobResult
	if unmarshalErr := json.Unmarshal(resp.Data, &result); unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal response: %w", unmarshalErr)
	}
	return &result, nil
}
