package postgres

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         UUID PRIMARY KEY,
	parent_id  UUID REFERENCES sessions (id),
	started_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS session_entries (
	seq        BIGSERIAL PRIMARY KEY,
	id         UUID NOT NULL UNIQUE,
	session_id UUID NOT NULL REFERENCES sessions (id),
	kind       TEXT NOT NULL,
	data       JSONB NOT NULL,
	status     TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS session_entries_session_idx ON session_entries (session_id, seq);

CREATE TABLE IF NOT EXISTS uploads (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	content_type TEXT NOT NULL,
	data         BYTEA NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
`
