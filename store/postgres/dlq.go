package postgres

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
		return fmt.Errorf("latch/postgres: push dlq: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO latch_dlq (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		dlqColumns,
	)
	if _, err := o.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("latch/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, oldest first.
func (o *ops) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM latch_dlq WHERE 1=1", dlqColumns)
	var args []any
	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}
	query += " ORDER BY failed_at ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := o.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("latch/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, err := scanDLQ(rows)
		if err != nil {
			return nil, fmt.Errorf("latch/postgres: list dlq: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetDLQ retrieves a DLQ entry by ID.
func (o *ops) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM latch_dlq WHERE id = $1", dlqColumns)
	e, err := scanDLQ(o.q.QueryRow(ctx, query, entryID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, latch.ErrDLQNotFound
		}
		return nil, fmt.Errorf("latch/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (o *ops) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := o.q.Exec(ctx,
		"UPDATE latch_dlq SET replayed_at = $1 WHERE id = $2",
		time.Now().UTC(), entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("latch/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return latch.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (o *ops) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := o.q.Exec(ctx,
		"DELETE FROM latch_dlq WHERE failed_at < $1", before,
	)
	if err != nil {
		return 0, fmt.Errorf("latch/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of dead letter entries.
func (o *ops) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := o.q.QueryRow(ctx, "SELECT COUNT(*) FROM latch_dlq").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("latch/postgres: count dlq: %w", err)
	}
	return count, nil
}
