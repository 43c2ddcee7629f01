package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/id"
)

// PushDLQ adds a failed job entry to the dead letter queue.
func (o *ops) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	args, err := dlqArgs(entry)
	if err != nil {
		return fmt.Errorf("latch/sqlite: push dlq: %w", err)
	}
	query := fmt.Sprintf(
		"INSERT INTO latch_dlq (%s) VALUES (%s)",
		dlqColumns, placeholders(len(args)),
	)
	if _, err := o.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("latch/sqlite: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, oldest first.
func (o *ops) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM latch_dlq WHERE 1=1", dlqColumns)
	var args []any
	if opts.Queue != "" {
		query += " AND queue = ?"
		args = append(args, opts.Queue)
	}
	query += " ORDER BY failed_at_ms ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("latch/sqlite: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, err := scanDLQ(rows)
		if err != nil {
			return nil, fmt.Errorf("latch/sqlite: list dlq: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetDLQ retrieves a DLQ entry by ID.
func (o *ops) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM latch_dlq WHERE id = ?", dlqColumns)
	e, err := scanDLQ(o.q.QueryRowContext(ctx, query, entryID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, latch.ErrDLQNotFound
		}
		return nil, fmt.Errorf("latch/sqlite: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (o *ops) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := o.q.ExecContext(ctx,
		"UPDATE latch_dlq SET replayed_at_ms = ? WHERE id = ?",
		time.Now().UTC().UnixMilli(), entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("latch/sqlite: replay dlq: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return latch.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (o *ops) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := o.q.ExecContext(ctx,
		"DELETE FROM latch_dlq WHERE failed_at_ms < ?", timeToMS(before),
	)
	if err != nil {
		return 0, fmt.Errorf("latch/sqlite: purge dlq: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CountDLQ returns the total number of dead letter entries.
func (o *ops) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := o.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM latch_dlq").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("latch/sqlite: count dlq: %w", err)
	}
	return count, nil
}
