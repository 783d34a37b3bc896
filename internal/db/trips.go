package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/wander/internal/models"
)

const tripCols = `id, owner_id, name, notes, start_date, end_date, collaborators,
	created_at, updated_at, sync_status, retry_count, next_retry_at`

func scanTrip(row interface{ Scan(...any) error }) (*models.Trip, error) {
	var t models.Trip
	var created, updated, status, collab string
	var start, end, nextRetry sql.NullString
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Notes, &start, &end, &collab,
		&created, &updated, &status, &t.RetryCount, &nextRetry)
	if err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if t.StartDate, err = parseTimePtr(start); err != nil {
		return nil, err
	}
	if t.EndDate, err = parseTimePtr(end); err != nil {
		return nil, err
	}
	t.Collaborators = unmarshalList(collab)
	t.SyncStatus = models.SyncStatus(status)
	if t.NextRetryAt, err = parseTimePtr(nextRetry); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTrip inserts a new trip marked pending. Assigns an ID when empty.
func (db *DB) CreateTrip(t *models.Trip) error {
	if t.ID == "" {
		id, err := NewTripID()
		if err != nil {
			return err
		}
		t.ID = id
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.SyncStatus = models.SyncPending
	return db.UpsertTrip(t, models.SyncPending)
}

// UpdateTrip saves local edits: updated_at advances strictly, status pending.
func (db *DB) UpdateTrip(t *models.Trip) error {
	t.UpdatedAt = NextUpdate(t.UpdatedAt)
	t.SyncStatus = models.SyncPending
	t.RetryCount = 0
	t.NextRetryAt = nil
	return db.UpsertTrip(t, models.SyncPending)
}

// UpsertTrip writes the full row with the given sync status.
func (db *DB) UpsertTrip(t *models.Trip, status models.SyncStatus) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT OR REPLACE INTO trips (id, owner_id, name, notes, start_date, end_date, collaborators,
				created_at, updated_at, sync_status, retry_count, next_retry_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.OwnerID, t.Name, t.Notes, fmtTimePtr(t.StartDate), fmtTimePtr(t.EndDate),
			jsonList(t.Collaborators),
			fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt), string(status),
			t.RetryCount, fmtTimePtr(t.NextRetryAt),
		)
		if err != nil {
			return fmt.Errorf("upsert trip %s: %w", t.ID, err)
		}
		return nil
	})
}

// GetTrip returns the trip by ID, or nil if absent.
func (db *DB) GetTrip(id string) (*models.Trip, error) {
	t, err := scanTrip(db.conn.QueryRow(
		fmt.Sprintf(`SELECT %s FROM trips WHERE id = ?`, tripCols), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// ListTrips returns all trips visible locally for the owner, newest first.
// Pulled collaborator trips carry their original owner_id, so the filter is
// on visibility (owner or collaborator), not ownership alone.
func (db *DB) ListTrips(userID string) ([]models.Trip, error) {
	rows, err := db.conn.Query(
		fmt.Sprintf(`SELECT %s FROM trips WHERE owner_id = ? OR collaborators LIKE ? ORDER BY updated_at DESC`, tripCols),
		userID, `%"`+userID+`"%`)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	var out []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// PendingTrips returns trips eligible for push, oldest first.
func (db *DB) PendingTrips(ownerID string, now time.Time) ([]models.Trip, error) {
	rows, err := db.conn.Query(
		fmt.Sprintf(`SELECT %s FROM trips WHERE %s ORDER BY updated_at ASC`, tripCols, pendingWhere),
		ownerID, fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("pending trips: %w", err)
	}
	defer rows.Close()

	var out []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
