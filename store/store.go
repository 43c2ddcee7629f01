// Package store defines the aggregate persistence interface. Each
// subsystem (job, dlq) defines its own store interface and the composite
// Store composes them. Backends: Postgres, SQLite, Redis, and Memory.
package store

import (
	"context"

	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/job"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// implements all of them.
type Store interface {
	job.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
