package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/wander/internal/models"
)

// EnqueueUpload queues an attachment blob for upload and stamps the owning
// log's photo list with a pending marker, so the log can still sync its
// other fields immediately.
func (db *DB) EnqueueUpload(blobID, logID, path string) error {
	l, err := db.GetLog(logID)
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("enqueue upload: log %s: %w", logID, sql.ErrNoRows)
	}

	l.Photos = append(l.Photos, models.AttachmentRef{BlobID: blobID})
	if err := db.UpdateLog(l); err != nil {
		return err
	}

	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT OR REPLACE INTO upload_queue (blob_id, log_id, path, state, retry_count, next_retry_at, created_at)
			VALUES (?, ?, ?, 'queued', 0, NULL, ?)`,
			blobID, logID, path, fmtTime(time.Now()))
		if err != nil {
			return fmt.Errorf("enqueue upload %s: %w", blobID, err)
		}
		return nil
	})
}

// DueUploads returns queued uploads whose retry time has come, oldest first.
func (db *DB) DueUploads(now time.Time) ([]models.Upload, error) {
	rows, err := db.conn.Query(`
		SELECT blob_id, log_id, path, state, retry_count, next_retry_at, created_at
		FROM upload_queue
		WHERE state = 'queued' AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at ASC`,
		fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("due uploads: %w", err)
	}
	defer rows.Close()

	var out []models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func scanUpload(row interface{ Scan(...any) error }) (*models.Upload, error) {
	var u models.Upload
	var state, created string
	var nextRetry sql.NullString
	err := row.Scan(&u.BlobID, &u.LogID, &u.Path, &state, &u.RetryCount, &nextRetry, &created)
	if err != nil {
		return nil, err
	}
	u.State = models.UploadState(state)
	if u.NextRetryAt, err = parseTimePtr(nextRetry); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUpload returns the queued upload by blob ID, or nil if absent.
func (db *DB) GetUpload(blobID string) (*models.Upload, error) {
	u, err := scanUpload(db.conn.QueryRow(`
		SELECT blob_id, log_id, path, state, retry_count, next_retry_at, created_at
		FROM upload_queue WHERE blob_id = ?`, blobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// MarkUploadDone records a completed transfer.
func (db *DB) MarkUploadDone(blobID string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`UPDATE upload_queue SET state = 'done' WHERE blob_id = ?`, blobID)
		return err
	})
}

// DeferUpload records a failed attempt and its next retry time.
func (db *DB) DeferUpload(blobID string, retryCount int, nextRetryAt time.Time) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(
			`UPDATE upload_queue SET retry_count = ?, next_retry_at = ? WHERE blob_id = ?`,
			retryCount, fmtTime(nextRetryAt), blobID)
		return err
	})
}

// MarkUploadDead parks an upload after bounded attempts. The owning record
// keeps syncing; the attachment surfaces as a missing-attachment warning.
func (db *DB) MarkUploadDead(blobID string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`UPDATE upload_queue SET state = 'dead' WHERE blob_id = ?`, blobID)
		return err
	})
}

// DeadUploads returns terminally failed uploads for warning surfaces.
func (db *DB) DeadUploads() ([]models.Upload, error) {
	rows, err := db.conn.Query(`
		SELECT blob_id, log_id, path, state, retry_count, next_retry_at, created_at
		FROM upload_queue WHERE state = 'dead' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}
