package postgres

// schema is the full DDL, written to be idempotent. Intervals and the
// per-job timeout are stored as milliseconds; TIMESTAMPTZ keeps more
// than enough precision for the scheduling arithmetic.
const schema = `
CREATE TABLE IF NOT EXISTS latch_jobs (
	id                TEXT PRIMARY KEY,
	worker            TEXT NOT NULL,
	queue             TEXT NOT NULL,
	input             JSONB NOT NULL DEFAULT '{}',
	output            JSONB,
	state             TEXT NOT NULL,
	run_attempt_count INTEGER NOT NULL DEFAULT 0,
	period_start      TIMESTAMPTZ,
	interval_ms       BIGINT NOT NULL DEFAULT 0,
	merger            TEXT NOT NULL DEFAULT '',
	run_at            TIMESTAMPTZ NOT NULL,
	notified_at       TIMESTAMPTZ,
	scope_tenant      TEXT NOT NULL DEFAULT '',
	last_error        TEXT NOT NULL DEFAULT '',
	timeout_ms        BIGINT NOT NULL DEFAULT 0,
	started_at        TIMESTAMPTZ,
	heartbeat_at      TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_latch_jobs_eligible
	ON latch_jobs (state, queue, run_at);

CREATE INDEX IF NOT EXISTS idx_latch_jobs_unnotified
	ON latch_jobs (state) WHERE notified_at IS NULL;

CREATE TABLE IF NOT EXISTS latch_dependencies (
	seq             BIGSERIAL PRIMARY KEY,
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
	input             JSONB NOT NULL DEFAULT '{}',
	error             TEXT NOT NULL DEFAULT '',
	run_attempt_count INTEGER NOT NULL DEFAULT 0,
	scope_tenant      TEXT NOT NULL DEFAULT '',
	failed_at         TIMESTAMPTZ NOT NULL,
	replayed_at       TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_latch_dlq_failed_at
	ON latch_dlq (failed_at);
`
