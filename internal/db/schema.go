package db

// schema is the initial database schema. Changes after release go through
// migrations.go, never by editing this in place.
const schema = `
CREATE TABLE IF NOT EXISTS places (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	name          TEXT NOT NULL,
	lat           REAL NOT NULL DEFAULT 0,
	lng           REAL NOT NULL DEFAULT 0,
	address       TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	sync_status   TEXT NOT NULL DEFAULT 'pending',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	next_retry_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_places_owner_status ON places(owner_id, sync_status);

CREATE TABLE IF NOT EXISTS trips (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	name          TEXT NOT NULL,
	notes         TEXT NOT NULL DEFAULT '',
	start_date    TEXT,
	end_date      TEXT,
	collaborators TEXT NOT NULL DEFAULT '[]',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	sync_status   TEXT NOT NULL DEFAULT 'pending',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	next_retry_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_trips_owner_status ON trips(owner_id, sync_status);

CREATE TABLE IF NOT EXISTS logs (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	place_id      TEXT NOT NULL,
	trip_id       TEXT NOT NULL DEFAULT '',
	rating        INTEGER NOT NULL DEFAULT 0,
	note          TEXT NOT NULL DEFAULT '',
	tags          TEXT NOT NULL DEFAULT '[]',
	photos        TEXT NOT NULL DEFAULT '[]',
	visited_at    TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	sync_status   TEXT NOT NULL DEFAULT 'pending',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	next_retry_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_logs_owner_status ON logs(owner_id, sync_status);
CREATE INDEX IF NOT EXISTS idx_logs_place ON logs(place_id);
CREATE INDEX IF NOT EXISTS idx_logs_trip ON logs(trip_id);

CREATE TABLE IF NOT EXISTS saved_lists (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	name          TEXT NOT NULL,
	place_ids     TEXT NOT NULL DEFAULT '[]',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	sync_status   TEXT NOT NULL DEFAULT 'pending',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	next_retry_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_saved_lists_owner_status ON saved_lists(owner_id, sync_status);

-- Durable delete-intents: the live row is removed immediately, the tombstone
-- is retried until the server acknowledges the delete.
CREATE TABLE IF NOT EXISTS tombstones (
	entity_type   TEXT NOT NULL,
	entity_id     TEXT NOT NULL,
	owner_id      TEXT NOT NULL,
	deleted_at    TEXT NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	next_retry_at TEXT,
	PRIMARY KEY (entity_type, entity_id)
);

-- One delta-pull boundary per (owner, entity type). Advances only past
-- successfully merged records.
CREATE TABLE IF NOT EXISTS sync_watermarks (
	owner_id    TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	watermark   TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (owner_id, entity_type)
);

-- Attachment upload queue, independent of record sync.
CREATE TABLE IF NOT EXISTS upload_queue (
	blob_id       TEXT PRIMARY KEY,
	log_id        TEXT NOT NULL,
	path          TEXT NOT NULL,
	state         TEXT NOT NULL DEFAULT 'queued',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	next_retry_at TEXT,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_upload_queue_state ON upload_queue(state);

CREATE TABLE IF NOT EXISTS schema_info (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
