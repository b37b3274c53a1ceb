package postgres

// Migrations returns the schema steps in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_datasets", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_pull_runs", UpSQL: migration002Up, DownSQL: migration002Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: DATASETS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS datasets (
    group_urlname TEXT PRIMARY KEY,
    has_seasons BOOLEAN NOT NULL DEFAULT FALSE,
    allow_overlap BOOLEAN NOT NULL DEFAULT FALSE,
    fact_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- One row per attendee fact; position keeps extraction order.
CREATE TABLE IF NOT EXISTS attendee_facts (
    group_urlname TEXT NOT NULL REFERENCES datasets(group_urlname) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    event_id TEXT NOT NULL,
    event_title TEXT NOT NULL,
    event_datetime TIMESTAMPTZ NOT NULL,
    event_status TEXT NOT NULL,
    event_going INTEGER NOT NULL,
    event_cursor TEXT NOT NULL,
    name TEXT NOT NULL,
    city TEXT,
    state TEXT,
    user_id TEXT,
    attend_status TEXT NOT NULL,
    kind TEXT NOT NULL,
    PRIMARY KEY (group_urlname, position)
);

CREATE INDEX IF NOT EXISTS idx_attendee_facts_event
    ON attendee_facts(group_urlname, event_datetime, event_id);

CREATE TABLE IF NOT EXISTS dataset_seasons (
    group_urlname TEXT NOT NULL REFERENCES datasets(group_urlname) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    start_at TIMESTAMPTZ NOT NULL,
    end_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (group_urlname, position),
    CHECK (start_at <= end_at)
);
`

const migration001Down = `
DROP TABLE IF EXISTS dataset_seasons;
DROP TABLE IF EXISTS attendee_facts;
DROP TABLE IF EXISTS datasets;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: PULL RUNS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS pull_runs (
    id UUID PRIMARY KEY,
    group_urlname TEXT NOT NULL,
    start_cursor TEXT NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    pages INTEGER NOT NULL DEFAULT 0,
    row_count INTEGER NOT NULL DEFAULT 0,
    resume_cursor TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_pull_runs_group_started
    ON pull_runs(group_urlname, started_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS pull_runs;
`
