package db

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version. Bump when adding a migration.
const SchemaVersion = 2

// columnExists checks whether a column exists on a table.
func (db *DB) columnExists(table, column string) (bool, error) {
	rows, err := db.conn.Query(fmt.Sprintf("PRAGMA table_info(%s);", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// GetSchemaVersion returns the current schema version from the database.
func (db *DB) GetSchemaVersion() (int, error) {
	var version string
	err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err != nil {
		// No row or no table yet: pre-migration database.
		return 0, nil
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v, nil
}

func (db *DB) setSchemaVersion(version int) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		fmt.Sprintf("%d", version))
	return err
}

// RunMigrations runs any pending database migrations and returns the number applied.
func (db *DB) RunMigrations() (int, error) {
	currentVersion, _ := db.GetSchemaVersion()
	if currentVersion >= SchemaVersion {
		return 0, nil
	}

	applied := 0
	return applied, db.withWriteLock(func() error {
		// Re-check under the lock; another process may have migrated already.
		currentVersion, _ = db.GetSchemaVersion()

		if currentVersion < 1 {
			if err := db.setSchemaVersion(1); err != nil {
				return fmt.Errorf("set version 1: %w", err)
			}
			currentVersion = 1
		}

		if currentVersion < 2 {
			if err := db.migrateV2(); err != nil {
				return fmt.Errorf("migration v2: %w", err)
			}
			if err := db.setSchemaVersion(2); err != nil {
				return fmt.Errorf("set version 2: %w", err)
			}
			applied++
		}

		return nil
	})
}

// migrateV2 adds the category column to places (absent in v1 databases).
func (db *DB) migrateV2() error {
	exists, err := db.columnExists("places", "category")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.conn.Exec(`ALTER TABLE places ADD COLUMN category TEXT NOT NULL DEFAULT ''`)
	return err
}
