package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/payload"
)

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	fields, err := dlqToMap(entry)
	if err != nil {
		return fmt.Errorf("latch/redis: push dlq: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), fields)
	pipe.RPush(ctx, dlqIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("latch/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, in push order.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.LRange(ctx, dlqIDsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("latch/redis: list dlq: %w", err)
	}

	var entries []*dlq.Entry
	for _, eID := range ids {
		e, getErr := s.getDLQByKey(ctx, dlqKey(eID))
		if getErr != nil {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		entries = append(entries, e)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQByKey(ctx, dlqKey(entryID.String()))
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("latch/redis: replay dlq: %w", err)
	}
	if exists == 0 {
		return latch.ErrDLQNotFound
	}

	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	if err := s.client.HSet(ctx, key, "replayed_at_ms", now).Err(); err != nil {
		return fmt.Errorf("latch/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.LRange(ctx, dlqIDsKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("latch/redis: purge dlq: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		e, getErr := s.getDLQByKey(ctx, dlqKey(eID))
		if getErr != nil {
			continue
		}
		if !e.FailedAt.Before(before) {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, dlqKey(eID))
		pipe.LRem(ctx, dlqIDsKey, 0, eID)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, fmt.Errorf("latch/redis: purge dlq: %w", err)
		}
		purged++
	}
	return purged, nil
}

// CountDLQ returns the total number of dead letter entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.LLen(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("latch/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func (s *Store) getDLQByKey(ctx context.Context, key string) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("latch/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, latch.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

func dlqToMap(e *dlq.Entry) (map[string]any, error) {
	input, err := e.Input.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	m := map[string]any{
		"id":                e.ID.String(),
		"job_id":            e.JobID.String(),
		"worker":            e.Worker,
		"queue":             e.Queue,
		"input":             string(input),
		"error":             e.Error,
		"run_attempt_count": strconv.Itoa(e.RunAttemptCount),
		"scope_tenant":      e.ScopeTenant,
		"failed_at_ms":      strconv.FormatInt(msOrZero(e.FailedAt), 10),
		"created_at_ms":     strconv.FormatInt(msOrZero(e.CreatedAt), 10),
	}
	if e.ReplayedAt != nil {
		m["replayed_at_ms"] = strconv.FormatInt(e.ReplayedAt.UnixMilli(), 10)
	}
	return m, nil
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("latch/redis: parse dlq id: %w", err)
	}
	jID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("latch/redis: parse job id: %w", err)
	}
	input, err := payload.Decode([]byte(m["input"]))
	if err != nil {
		return nil, fmt.Errorf("latch/redis: decode input: %w", err)
	}

	attempts, _ := strconv.Atoi(m["run_attempt_count"])          //nolint:errcheck // best-effort parse from trusted Redis data
	failedMS, _ := strconv.ParseInt(m["failed_at_ms"], 10, 64)   //nolint:errcheck // best-effort parse from trusted Redis data
	createdMS, _ := strconv.ParseInt(m["created_at_ms"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	return &dlq.Entry{
		ID:              eID,
		JobID:           jID,
		Worker:          m["worker"],
		Queue:           m["queue"],
		Input:           input,
		Error:           m["error"],
		RunAttemptCount: attempts,
		ScopeTenant:     m["scope_tenant"],
		FailedAt:        msToTime(failedMS),
		ReplayedAt:      parseMSPtr(m["replayed_at_ms"]),
		CreatedAt:       msToTime(createdMS),
	}, nil
}
