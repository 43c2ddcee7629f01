package latch

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("latch: no store configured")
	ErrStoreClosed     = errors.New("latch: store closed")
	ErrMigrationFailed = errors.New("latch: migration failed")

	// Not found errors.
	ErrJobNotFound    = errors.New("latch: job not found")
	ErrDLQNotFound    = errors.New("latch: dead-letter entry not found")
	ErrWorkerNotFound = errors.New("latch: worker type not registered")
	ErrMergerNotFound = errors.New("latch: input merger type not registered")

	// Conflict errors.
	ErrJobAlreadyExists   = errors.New("latch: job already exists")
	ErrDependencyExists   = errors.New("latch: dependency edge already exists")
	ErrPeriodicDependency = errors.New("latch: periodic jobs cannot participate in dependency chains")

	// State errors.
	ErrInvalidState = errors.New("latch: invalid state transition")
	ErrNotRunnable  = errors.New("latch: job is not in a runnable state")
)
