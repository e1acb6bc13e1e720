// Package postgres provides PostgreSQL implementations of storage interfaces.
package postgres

// Schema contains the SQL statements to create the learned mapping tables.
// All statements use IF NOT EXISTS and are safe to run on every start.
const Schema = `
-- One row per (scope, normalized transcript name). The primary key makes
-- confirmations an atomic upsert across workers.
CREATE TABLE IF NOT EXISTS learned_mappings (
    scope TEXT NOT NULL,
    transcript_key TEXT NOT NULL,
    transcript_name TEXT NOT NULL,
    resolved_email TEXT NOT NULL,
    resolved_name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_by TEXT NOT NULL DEFAULT 'auto',
    PRIMARY KEY (scope, transcript_key)
);

-- Append-only per-scope history of confirmations and deletions.
CREATE TABLE IF NOT EXISTS mapping_history (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    scope TEXT NOT NULL,
    transcript_name TEXT NOT NULL,
    resolved_email TEXT NOT NULL DEFAULT '',
    resolved_name TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_mapping_history_scope_at ON mapping_history(scope, at DESC);
`
