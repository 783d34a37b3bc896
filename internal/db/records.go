package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/wander/internal/models"
)

// tableFor maps an entity type to its table name. Entity types are a closed
// set, so interpolating the result into SQL is safe.
func tableFor(entity models.EntityType) (string, error) {
	switch entity {
	case models.EntityPlace, models.EntityTrip, models.EntityLog, models.EntityList:
		return string(entity), nil
	default:
		return "", fmt.Errorf("unknown entity type %q", entity)
	}
}

// jsonList marshals a string slice, normalizing nil to [].
func jsonList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

// NextUpdate returns a strictly increasing updated-at timestamp: wall clock
// time, bumped past prev if the clock has not advanced (sub-ns resolution
// edits, clock skew after restore).
func NextUpdate(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}

// SetStatus transitions a record's sync status and retry bookkeeping.
// Only the sync engine calls this; the UI layer always writes 'pending'.
func (db *DB) SetStatus(entity models.EntityType, id string, status models.SyncStatus, retryCount int, nextRetryAt *time.Time) error {
	table, err := tableFor(entity)
	if err != nil {
		return err
	}
	return db.withWriteLock(func() error {
		res, err := db.conn.Exec(
			fmt.Sprintf(`UPDATE %s SET sync_status = ?, retry_count = ?, next_retry_at = ? WHERE id = ?`, table),
			string(status), retryCount, fmtTimePtr(nextRetryAt), id,
		)
		if err != nil {
			return fmt.Errorf("set status %s/%s: %w", entity, id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("set status %s/%s: %w", entity, id, sql.ErrNoRows)
		}
		return nil
	})
}

// MarkSynced completes a push, conditionally: the transition only applies
// while the row is still 'syncing'. A UI edit that landed mid-flight re-marks
// the row pending, and stamping 'synced' over that would bury the edit (the
// next pull would discard the server copy as stale and nothing would ever
// push the change). Returns false when the row lost the race.
func (db *DB) MarkSynced(entity models.EntityType, id string) (bool, error) {
	table, err := tableFor(entity)
	if err != nil {
		return false, err
	}
	var n int64
	err = db.withWriteLock(func() error {
		res, err := db.conn.Exec(
			fmt.Sprintf(`UPDATE %s SET sync_status = 'synced', retry_count = 0, next_retry_at = NULL
				 WHERE id = ? AND sync_status = 'syncing'`, table),
			id,
		)
		if err != nil {
			return fmt.Errorf("mark synced %s/%s: %w", entity, id, err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n > 0, err
}

// requeueStuckSyncing resets records left in 'syncing' by a crashed cycle
// back to 'pending' so the next push picks them up.
func (db *DB) requeueStuckSyncing() error {
	for _, entity := range models.EntityTypes {
		table, err := tableFor(entity)
		if err != nil {
			return err
		}
		if _, err := db.conn.Exec(
			fmt.Sprintf(`UPDATE %s SET sync_status = 'pending' WHERE sync_status = 'syncing'`, table),
		); err != nil {
			return err
		}
	}
	return nil
}

// pendingWhere selects records eligible for push: pending, or failed with a
// due retry time. Failed rows with NULL next_retry_at are permanent
// (validation) failures and stay parked until the record is edited.
const pendingWhere = `owner_id = ? AND (
	sync_status = 'pending'
	OR (sync_status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= ?)
)`

// CountPending returns the number of records awaiting push for the owner,
// across all entity types, including queued delete-intents.
func (db *DB) CountPending(ownerID string) (int, error) {
	total := 0
	now := fmtTime(time.Now())
	for _, entity := range models.EntityTypes {
		table, _ := tableFor(entity)
		var n int
		err := db.conn.QueryRow(
			fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, table, pendingWhere),
			ownerID, now,
		).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("count pending %s: %w", entity, err)
		}
		total += n
	}
	var t int
	if err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM tombstones WHERE owner_id = ?`, ownerID,
	).Scan(&t); err != nil {
		return 0, fmt.Errorf("count tombstones: %w", err)
	}
	return total + t, nil
}

// StatusRow is one line of the per-record sync status surface.
type StatusRow struct {
	EntityType  models.EntityType
	ID          string
	Label       string
	SyncStatus  models.SyncStatus
	RetryCount  int
	NextRetryAt *time.Time
	UpdatedAt   time.Time
}

// ListUnsynced returns every record not yet in the synced state, oldest first.
// Backs the status badges exposed to the UI layer.
func (db *DB) ListUnsynced(ownerID string) ([]StatusRow, error) {
	var out []StatusRow
	labelCol := map[models.EntityType]string{
		models.EntityPlace: "name",
		models.EntityTrip:  "name",
		models.EntityLog:   "note",
		models.EntityList:  "name",
	}
	for _, entity := range models.EntityTypes {
		table, _ := tableFor(entity)
		rows, err := db.conn.Query(fmt.Sprintf(
			`SELECT id, %s, sync_status, retry_count, next_retry_at, updated_at
			 FROM %s WHERE owner_id = ? AND sync_status != 'synced'
			 ORDER BY updated_at ASC`, labelCol[entity], table), ownerID)
		if err != nil {
			return nil, fmt.Errorf("list unsynced %s: %w", entity, err)
		}
		for rows.Next() {
			var r StatusRow
			var status, updated string
			var nextRetry sql.NullString
			if err := rows.Scan(&r.ID, &r.Label, &status, &r.RetryCount, &nextRetry, &updated); err != nil {
				rows.Close()
				return nil, err
			}
			r.EntityType = entity
			r.SyncStatus = models.SyncStatus(status)
			if r.NextRetryAt, err = parseTimePtr(nextRetry); err != nil {
				rows.Close()
				return nil, err
			}
			if r.UpdatedAt, err = parseTime(updated); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// Delete removes the live row immediately (optimistic delete) and records a
// durable tombstone in the same transaction, so a crash before the remote
// delete is acknowledged cannot lose the intent.
func (db *DB) Delete(entity models.EntityType, id, ownerID string) error {
	table, err := tableFor(entity)
	if err != nil {
		return err
	}
	return db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND owner_id = ?`, table), id, ownerID)
		if err != nil {
			return fmt.Errorf("delete %s/%s: %w", entity, id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("delete %s/%s: %w", entity, id, sql.ErrNoRows)
		}

		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO tombstones (entity_type, entity_id, owner_id, deleted_at, retry_count, next_retry_at)
			 VALUES (?, ?, ?, ?, 0, NULL)`,
			string(entity), id, ownerID, fmtTime(time.Now()),
		); err != nil {
			return fmt.Errorf("insert tombstone %s/%s: %w", entity, id, err)
		}

		return tx.Commit()
	})
}

// ReassignOwner moves every record and tombstone from one owner to another
// and re-marks moved records pending. Used on first login to adopt records
// created before the device was authenticated.
func (db *DB) ReassignOwner(from, to string) error {
	if from == to {
		return nil
	}
	return db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		for _, entity := range models.EntityTypes {
			table, err := tableFor(entity)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(fmt.Sprintf(
				`UPDATE %s SET owner_id = ?, sync_status = ? WHERE owner_id = ?`, table,
			), to, string(models.SyncPending), from); err != nil {
				return fmt.Errorf("reassign %s: %w", entity, err)
			}
		}
		if _, err := tx.Exec(
			`UPDATE tombstones SET owner_id = ? WHERE owner_id = ?`, to, from,
		); err != nil {
			return fmt.Errorf("reassign tombstones: %w", err)
		}

		return tx.Commit()
	})
}

// RemoveLocal deletes a live row without queuing a tombstone. Used by pull
// when the server reports the record deleted elsewhere.
func (db *DB) RemoveLocal(entity models.EntityType, id string) error {
	table, err := tableFor(entity)
	if err != nil {
		return err
	}
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
		return err
	})
}
