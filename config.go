package latch

import "time"

// Config holds configuration for the execution engine.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently
	// by the worker pool.
	Concurrency int

	// Queues is the list of queues the worker pool will poll.
	Queues []string

	// PollInterval is how often the pool polls for eligible jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often the pool refreshes the liveness
	// timestamp of jobs it is running. Zero disables heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long a running job may go without a
	// heartbeat before the reaper returns it to the queue. Zero
	// disables the reaper.
	StaleJobThreshold time.Duration

	// SweepLimit caps how many unclaimed jobs a single notifier sweep
	// hands to the schedulers. Zero uses the notifier's default.
	SweepLimit int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		Queues:            []string{"default"},
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 30 * time.Second,
		SweepLimit:        0,
	}
}
