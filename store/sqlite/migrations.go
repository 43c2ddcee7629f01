package sqlite

// schema is the full DDL, written to be idempotent. Timestamps are unix
// milliseconds so a round trip through the store preserves the precision
// the period arithmetic depends on.
const schema = `
CREATE TABLE IF NOT EXISTS latch_jobs (
	id                TEXT PRIMARY KEY,
	worker            TEXT NOT NULL,
	queue             TEXT NOT NULL,
	input             TEXT NOT NULL DEFAULT '{}',
	output            TEXT,
	state             TEXT NOT NULL,
	run_attempt_count INTEGER NOT NULL DEFAULT 0,
	period_start_ms   INTEGER NOT NULL DEFAULT 0,
	interval_ms       INTEGER NOT NULL DEFAULT 0,
	merger            TEXT NOT NULL DEFAULT '',
	run_at_ms         INTEGER NOT NULL,
	notified_at_ms    INTEGER,
	scope_tenant      TEXT NOT NULL DEFAULT '',
	last_error        TEXT NOT NULL DEFAULT '',
	timeout_ms        INTEGER NOT NULL DEFAULT 0,
	started_at_ms     INTEGER,
	heartbeat_at_ms   INTEGER,
	completed_at_ms   INTEGER,
	created_at_ms     INTEGER NOT NULL,
	updated_at_ms     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_latch_jobs_eligible
	ON latch_jobs (state, queue, run_at_ms);

CREATE INDEX IF NOT EXISTS idx_latch_jobs_unnotified
	ON latch_jobs (state, notified_at_ms);

CREATE TABLE IF NOT EXISTS latch_dependencies (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	dependent_id    TEXT NOT NULL REFERENCES latch_jobs (id) ON DELETE CASCADE,
	prerequisite_id TEXT NOT NULL REFERENCES latch_jobs (id) ON DELETE CASCADE,
	UNIQUE (dependent_id, prerequisite_id)
);

CREATE INDEX IF NOT EXISTS idx_latch_dependencies_dependent
	ON latch_dependencies (dependent_id);

CREATE INDEX IF NOT EXISTS idx_latch_dependencies_prerequisite
	ON latch_dependencies (prerequisite_id);

CREATE TABLE IF NOT EXISTS latch_dlq (
	id                TEXT PRIMARY KEY,
	job_id            TEXT NOT NULL,
	worker            TEXT NOT NULL,
	queue             TEXT NOT NULL,
	input             TEXT NOT NULL DEFAULT '{}',
	error             TEXT NOT NULL DEFAULT '',
	run_attempt_count INTEGER NOT NULL DEFAULT 0,
	scope_tenant      TEXT NOT NULL DEFAULT '',
	failed_at_ms      INTEGER NOT NULL,
	replayed_at_ms    INTEGER,
	created_at_ms     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_latch_dlq_failed_at
	ON latch_dlq (failed_at_ms);
`
