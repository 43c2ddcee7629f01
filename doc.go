// Package latch provides a dependency-gated, durable job execution and
// rescheduling engine for Go. Jobs are persisted records carrying a typed
// worker reference; a job with prerequisites stays blocked until every
// prerequisite has succeeded, at which point it is unblocked, handed to the
// registered schedulers, and becomes eligible to run.
//
// Latch is designed as a library, not a service. Import it, configure a
// store, register worker types, and submit jobs.
//
// # Quick Start
//
//	eng, err := engine.New(memory.New(),
//	    engine.WithConcurrency(20),
//	)
//
// # Architecture
//
// Latch follows a composable store pattern: the job subsystem and the
// dead-letter subsystem each define their own store interface, and a single
// backend (memory, sqlite, postgres, redis) implements all of them. The
// execution engine runs one job at a time through a middleware chain,
// resolves worker and input-merger types from registries, and performs all
// multi-step state mutations inside one storage transaction.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package latch
