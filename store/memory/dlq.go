package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/id"
)

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return latch.ErrStoreClosed
	}
	s.dlqEntries[entry.ID] = cloneEntry(entry)
	s.dlqOrder = append(s.dlqOrder, entry.ID)
	return nil
}

// ListDLQ returns DLQ entries matching the given options, oldest first.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*dlq.Entry
	for _, entryID := range s.dlqOrder {
		e := s.dlqEntries[entryID]
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		all = append(all, cloneEntry(e))
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return nil, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlqEntries[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", latch.ErrDLQNotFound, entryID)
	}
	return cloneEntry(e), nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dlqEntries[entryID]
	if !ok {
		return fmt.Errorf("%w: %s", latch.ErrDLQNotFound, entryID)
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	order := s.dlqOrder[:0]
	for _, entryID := range s.dlqOrder {
		e := s.dlqEntries[entryID]
		if e.FailedAt.Before(before) {
			delete(s.dlqEntries, entryID)
			removed++
			continue
		}
		order = append(order, entryID)
	}
	s.dlqOrder = order
	return removed, nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.dlqEntries)), nil
}

func cloneEntry(e *dlq.Entry) *dlq.Entry {
	c := *e
	c.Input = e.Input.Clone()
	if e.ReplayedAt != nil {
		t := *e.ReplayedAt
		c.ReplayedAt = &t
	}
	return &c
}
