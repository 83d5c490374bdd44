package sqlite

// Schema creates all tables for the SQLite profile store. Conversations
// are stored per profile — copies, not shared rows — matching the store
// contract that deleting one profile never disturbs another profile's
// conversation list.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	external_ref TEXT NOT NULL DEFAULT '',
	first_seen   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS images (
	id           TEXT PRIMARY KEY,
	profile_id   TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	data         BLOB,
	captured_at  TIMESTAMP NOT NULL,
	external_ref TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS images_profile_idx ON images (profile_id, position);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	ended_at   TIMESTAMP,
	active     INTEGER NOT NULL DEFAULT 0,
	audio      BLOB
);

CREATE TABLE IF NOT EXISTS session_profiles (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	profile_id TEXT NOT NULL,
	position   INTEGER NOT NULL,
	PRIMARY KEY (session_id, profile_id)
);

CREATE TABLE IF NOT EXISTS conversations (
	session_id  TEXT NOT NULL,
	profile_id  TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	title       TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	ended_at    TIMESTAMP NOT NULL,
	audio       BLOB,
	profile_ids TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (session_id, profile_id)
);

CREATE TABLE IF NOT EXISTS counters (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`
