package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/wander/internal/models"
)

// DueTombstones returns delete-intents eligible for a remote attempt,
// oldest first.
func (db *DB) DueTombstones(ownerID string, now time.Time) ([]models.Tombstone, error) {
	rows, err := db.conn.Query(`
		SELECT entity_type, entity_id, owner_id, deleted_at, retry_count, next_retry_at
		FROM tombstones
		WHERE owner_id = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY deleted_at ASC`,
		ownerID, fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("due tombstones: %w", err)
	}
	defer rows.Close()

	var out []models.Tombstone
	for rows.Next() {
		var t models.Tombstone
		var entity, deleted string
		var nextRetry sql.NullString
		if err := rows.Scan(&entity, &t.EntityID, &t.OwnerID, &deleted, &t.RetryCount, &nextRetry); err != nil {
			return nil, err
		}
		t.EntityType = models.EntityType(entity)
		if t.DeletedAt, err = parseTime(deleted); err != nil {
			return nil, err
		}
		if t.NextRetryAt, err = parseTimePtr(nextRetry); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RemoveTombstone clears an acknowledged delete-intent.
func (db *DB) RemoveTombstone(entity models.EntityType, entityID string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(
			`DELETE FROM tombstones WHERE entity_type = ? AND entity_id = ?`,
			string(entity), entityID)
		return err
	})
}

// DeferTombstone records a failed delete attempt and its next retry time.
// Failures are never dropped, only deferred.
func (db *DB) DeferTombstone(entity models.EntityType, entityID string, retryCount int, nextRetryAt time.Time) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(
			`UPDATE tombstones SET retry_count = ?, next_retry_at = ? WHERE entity_type = ? AND entity_id = ?`,
			retryCount, fmtTime(nextRetryAt), string(entity), entityID)
		return err
	})
}

// CountTombstones returns the number of unacknowledged delete-intents.
func (db *DB) CountTombstones(ownerID string) (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM tombstones WHERE owner_id = ?`, ownerID).Scan(&n)
	return n, err
}
