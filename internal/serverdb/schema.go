package serverdb

// ServerSchemaVersion is the current server database schema version
const ServerSchemaVersion = 2

const serverSchema = `
-- Users table
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT UNIQUE NOT NULL,
    email_verified_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- API keys table
CREATE TABLE IF NOT EXISTS api_keys (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    key_hash TEXT UNIQUE NOT NULL,
    key_prefix TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    expires_at DATETIME,
    last_used_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

-- Device auth flow requests
CREATE TABLE IF NOT EXISTS auth_requests (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    device_code TEXT UNIQUE NOT NULL,
    user_code TEXT UNIQUE NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    user_id TEXT,
    api_key_id TEXT,
    expires_at DATETIME NOT NULL,
    verified_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Canonical record store. updated_at_ns is unix nanoseconds: the sole
-- conflict signal, compared numerically. deleted_at_ns marks soft deletes
-- that must still flow to other devices as deletion markers.
-- trip_id / place_id are denormalized from log payloads for the sharing
-- visibility queries.
CREATE TABLE IF NOT EXISTS records (
    entity_type TEXT NOT NULL,
    id TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    payload TEXT,
    trip_id TEXT,
    place_id TEXT,
    created_at_ns BIGINT NOT NULL,
    updated_at_ns BIGINT NOT NULL,
    deleted_at_ns BIGINT,
    updated_by_device TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (entity_type, id)
);

-- Trip sharing: collaborators gain pull visibility into the trip, its logs,
-- and the places those logs reference.
CREATE TABLE IF NOT EXISTS trip_collaborators (
    trip_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (trip_id, user_id)
);

-- Schema info table
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id);
CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix);
CREATE INDEX IF NOT EXISTS idx_auth_requests_device_code ON auth_requests(device_code);
CREATE INDEX IF NOT EXISTS idx_auth_requests_user_code ON auth_requests(user_code);
CREATE INDEX IF NOT EXISTS idx_auth_requests_cleanup ON auth_requests(status, expires_at);
CREATE INDEX IF NOT EXISTS idx_records_owner_updated ON records(entity_type, owner_id, updated_at_ns);
CREATE INDEX IF NOT EXISTS idx_records_trip ON records(trip_id);
CREATE INDEX IF NOT EXISTS idx_records_place ON records(place_id);
CREATE INDEX IF NOT EXISTS idx_collaborators_user ON trip_collaborators(user_id);
`

// Migration defines a server database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all server database migrations in order
var Migrations = []Migration{
	// Version 1 is the initial schema - no migration needed
	{
		Version:     2,
		Description: "Add attachments table for photo blob storage",
		SQL: `CREATE TABLE IF NOT EXISTS attachments (
			blob_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			url TEXT NOT NULL,
			size BIGINT NOT NULL,
			content_hash TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_attachments_owner ON attachments(owner_id);`,
	},
}
