package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/wander/internal/models"
)

const listCols = `id, owner_id, name, place_ids,
	created_at, updated_at, sync_status, retry_count, next_retry_at`

func scanSavedList(row interface{ Scan(...any) error }) (*models.SavedList, error) {
	var sl models.SavedList
	var created, updated, status, placeIDs string
	var nextRetry sql.NullString
	err := row.Scan(&sl.ID, &sl.OwnerID, &sl.Name, &placeIDs,
		&created, &updated, &status, &sl.RetryCount, &nextRetry)
	if err != nil {
		return nil, err
	}
	if sl.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if sl.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	sl.PlaceIDs = unmarshalList(placeIDs)
	sl.SyncStatus = models.SyncStatus(status)
	if sl.NextRetryAt, err = parseTimePtr(nextRetry); err != nil {
		return nil, err
	}
	return &sl, nil
}

// CreateSavedList inserts a new list marked pending. Assigns an ID when empty.
func (db *DB) CreateSavedList(sl *models.SavedList) error {
	if sl.ID == "" {
		id, err := NewListID()
		if err != nil {
			return err
		}
		sl.ID = id
	}
	now := time.Now().UTC()
	sl.CreatedAt = now
	sl.UpdatedAt = now
	sl.SyncStatus = models.SyncPending
	return db.UpsertSavedList(sl, models.SyncPending)
}

// UpdateSavedList saves local edits: updated_at advances strictly, status pending.
func (db *DB) UpdateSavedList(sl *models.SavedList) error {
	sl.UpdatedAt = NextUpdate(sl.UpdatedAt)
	sl.SyncStatus = models.SyncPending
	sl.RetryCount = 0
	sl.NextRetryAt = nil
	return db.UpsertSavedList(sl, models.SyncPending)
}

// UpsertSavedList writes the full row with the given sync status.
func (db *DB) UpsertSavedList(sl *models.SavedList, status models.SyncStatus) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT OR REPLACE INTO saved_lists (id, owner_id, name, place_ids,
				created_at, updated_at, sync_status, retry_count, next_retry_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sl.ID, sl.OwnerID, sl.Name, jsonList(sl.PlaceIDs),
			fmtTime(sl.CreatedAt), fmtTime(sl.UpdatedAt), string(status),
			sl.RetryCount, fmtTimePtr(sl.NextRetryAt),
		)
		if err != nil {
			return fmt.Errorf("upsert saved list %s: %w", sl.ID, err)
		}
		return nil
	})
}

// GetSavedList returns the list by ID, or nil if absent.
func (db *DB) GetSavedList(id string) (*models.SavedList, error) {
	sl, err := scanSavedList(db.conn.QueryRow(
		fmt.Sprintf(`SELECT %s FROM saved_lists WHERE id = ?`, listCols), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sl, err
}

// ListSavedLists returns all saved lists for the owner, newest first.
func (db *DB) ListSavedLists(ownerID string) ([]models.SavedList, error) {
	rows, err := db.conn.Query(
		fmt.Sprintf(`SELECT %s FROM saved_lists WHERE owner_id = ? ORDER BY updated_at DESC`, listCols), ownerID)
	if err != nil {
		return nil, fmt.Errorf("list saved lists: %w", err)
	}
	defer rows.Close()

	var out []models.SavedList
	for rows.Next() {
		sl, err := scanSavedList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sl)
	}
	return out, rows.Err()
}

// PendingSavedLists returns lists eligible for push, oldest first.
func (db *DB) PendingSavedLists(ownerID string, now time.Time) ([]models.SavedList, error) {
	rows, err := db.conn.Query(
		fmt.Sprintf(`SELECT %s FROM saved_lists WHERE %s ORDER BY updated_at ASC`, listCols, pendingWhere),
		ownerID, fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("pending saved lists: %w", err)
	}
	defer rows.Close()

	var out []models.SavedList
	for rows.Next() {
		sl, err := scanSavedList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sl)
	}
	return out, rows.Err()
}
