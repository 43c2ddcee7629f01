// Package redis implements store.Store using Redis for high-throughput
// single-node deployments. Entities are stored as Redis Hashes with
// Lists keeping creation and dependency-edge order.
//
// Atomically serializes the callback with an in-process mutex instead of
// a storage transaction: writes apply immediately and are not rolled
// back if the callback fails. That keeps concurrent pollers of one
// engine process consistent, but processes sharing a Redis database do
// not get cross-process isolation. Use the postgres backend when
// multiple nodes poll the same store.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/job"
)

// Compile-time interface checks.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
	txMu   sync.Mutex
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op -- the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// Atomically serializes fn against all other Atomically callers in this
// process. See the package comment for the isolation caveats.
func (s *Store) Atomically(_ context.Context, fn func(tx job.Ops) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}
