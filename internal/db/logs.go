package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/wander/internal/models"
)

const logCols = `id, owner_id, place_id, trip_id, rating, note, tags, photos, visited_at,
	created_at, updated_at, sync_status, retry_count, next_retry_at`

func scanLog(row interface{ Scan(...any) error }) (*models.Log, error) {
	var l models.Log
	var created, updated, visited, status, tags, photos string
	var nextRetry sql.NullString
	err := row.Scan(&l.ID, &l.OwnerID, &l.PlaceID, &l.TripID, &l.Rating, &l.Note,
		&tags, &photos, &visited, &created, &updated, &status, &l.RetryCount, &nextRetry)
	if err != nil {
		return nil, err
	}
	if l.VisitedAt, err = parseTime(visited); err != nil {
		return nil, err
	}
	if l.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	l.Tags = unmarshalList(tags)
	if photos != "" && photos != "[]" {
		if err := json.Unmarshal([]byte(photos), &l.Photos); err != nil {
			return nil, fmt.Errorf("unmarshal photos for %s: %w", l.ID, err)
		}
	}
	l.SyncStatus = models.SyncStatus(status)
	if l.NextRetryAt, err = parseTimePtr(nextRetry); err != nil {
		return nil, err
	}
	return &l, nil
}

func marshalPhotos(photos []models.AttachmentRef) string {
	if photos == nil {
		photos = []models.AttachmentRef{}
	}
	b, _ := json.Marshal(photos)
	return string(b)
}

// CreateLog inserts a new log marked pending. Assigns an ID when empty.
func (db *DB) CreateLog(l *models.Log) error {
	if l.PlaceID == "" {
		return fmt.Errorf("log requires a place_id")
	}
	if l.ID == "" {
		id, err := NewLogID()
		if err != nil {
			return err
		}
		l.ID = id
	}
	now := time.Now().UTC()
	if l.VisitedAt.IsZero() {
		l.VisitedAt = now
	}
	l.CreatedAt = now
	l.UpdatedAt = now
	l.SyncStatus = models.SyncPending
	return db.UpsertLog(l, models.SyncPending)
}

// UpdateLog saves local edits: updated_at advances strictly, status pending.
func (db *DB) UpdateLog(l *models.Log) error {
	l.UpdatedAt = NextUpdate(l.UpdatedAt)
	l.SyncStatus = models.SyncPending
	l.RetryCount = 0
	l.NextRetryAt = nil
	return db.UpsertLog(l, models.SyncPending)
}

// UpsertLog writes the full row with the given sync status.
func (db *DB) UpsertLog(l *models.Log, status models.SyncStatus) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT OR REPLACE INTO logs (id, owner_id, place_id, trip_id, rating, note, tags, photos,
				visited_at, created_at, updated_at, sync_status, retry_count, next_retry_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.OwnerID, l.PlaceID, l.TripID, l.Rating, l.Note,
			jsonList(l.Tags), marshalPhotos(l.Photos),
			fmtTime(l.VisitedAt), fmtTime(l.CreatedAt), fmtTime(l.UpdatedAt), string(status),
			l.RetryCount, fmtTimePtr(l.NextRetryAt),
		)
		if err != nil {
			return fmt.Errorf("upsert log %s: %w", l.ID, err)
		}
		return nil
	})
}

// GetLog returns the log by ID, or nil if absent.
func (db *DB) GetLog(id string) (*models.Log, error) {
	l, err := scanLog(db.conn.QueryRow(
		fmt.Sprintf(`SELECT %s FROM logs WHERE id = ?`, logCols), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

// ListLogs returns the owner's logs, most recently visited first.
// tripID filters to one trip when non-empty.
func (db *DB) ListLogs(ownerID, tripID string) ([]models.Log, error) {
	q := fmt.Sprintf(`SELECT %s FROM logs WHERE owner_id = ?`, logCols)
	args := []any{ownerID}
	if tripID != "" {
		q += ` AND trip_id = ?`
		args = append(args, tripID)
	}
	q += ` ORDER BY visited_at DESC`

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var out []models.Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// PendingLogs returns logs eligible for push, oldest first.
func (db *DB) PendingLogs(ownerID string, now time.Time) ([]models.Log, error) {
	rows, err := db.conn.Query(
		fmt.Sprintf(`SELECT %s FROM logs WHERE %s ORDER BY updated_at ASC`, logCols, pendingWhere),
		ownerID, fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("pending logs: %w", err)
	}
	defer rows.Close()

	var out []models.Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// ResolveAttachment replaces the pending marker for blobID with the remote URL
// in the owning log's photo list and re-marks the log pending, so the next
// push propagates the updated attachment list. No-op if the log is gone.
func (db *DB) ResolveAttachment(logID, blobID, url string) error {
	l, err := db.GetLog(logID)
	if err != nil {
		return err
	}
	if l == nil {
		return nil
	}
	replaced := false
	for i, p := range l.Photos {
		if p.BlobID == blobID && p.Pending() {
			l.Photos[i] = models.AttachmentRef{URL: url}
			replaced = true
		}
	}
	if !replaced {
		return nil
	}
	return db.UpdateLog(l)
}
