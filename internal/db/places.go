package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/wander/internal/models"
)

const placeCols = `id, owner_id, name, lat, lng, address, category,
	created_at, updated_at, sync_status, retry_count, next_retry_at`

func scanPlace(row interface{ Scan(...any) error }) (*models.Place, error) {
	var p models.Place
	var created, updated, status string
	var nextRetry sql.NullString
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Lat, &p.Lng, &p.Address, &p.Category,
		&created, &updated, &status, &p.RetryCount, &nextRetry)
	if err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	p.SyncStatus = models.SyncStatus(status)
	if p.NextRetryAt, err = parseTimePtr(nextRetry); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePlace inserts a new place marked pending. Assigns an ID when empty.
func (db *DB) CreatePlace(p *models.Place) error {
	if p.ID == "" {
		id, err := NewPlaceID()
		if err != nil {
			return err
		}
		p.ID = id
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.SyncStatus = models.SyncPending
	return db.UpsertPlace(p, models.SyncPending)
}

// UpdatePlace saves local edits: updated_at advances strictly, status pending.
func (db *DB) UpdatePlace(p *models.Place) error {
	p.UpdatedAt = NextUpdate(p.UpdatedAt)
	p.SyncStatus = models.SyncPending
	p.RetryCount = 0
	p.NextRetryAt = nil
	return db.UpsertPlace(p, models.SyncPending)
}

// UpsertPlace writes the full row with the given sync status. The merge path
// uses it with 'synced'; local writes use it with 'pending'.
func (db *DB) UpsertPlace(p *models.Place, status models.SyncStatus) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT OR REPLACE INTO places (id, owner_id, name, lat, lng, address, category,
				created_at, updated_at, sync_status, retry_count, next_retry_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.OwnerID, p.Name, p.Lat, p.Lng, p.Address, p.Category,
			fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt), string(status),
			p.RetryCount, fmtTimePtr(p.NextRetryAt),
		)
		if err != nil {
			return fmt.Errorf("upsert place %s: %w", p.ID, err)
		}
		return nil
	})
}

// GetPlace returns the place by ID, or nil if absent.
func (db *DB) GetPlace(id string) (*models.Place, error) {
	p, err := scanPlace(db.conn.QueryRow(
		fmt.Sprintf(`SELECT %s FROM places WHERE id = ?`, placeCols), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// ListPlaces returns all places for the owner, newest first.
func (db *DB) ListPlaces(ownerID string) ([]models.Place, error) {
	rows, err := db.conn.Query(
		fmt.Sprintf(`SELECT %s FROM places WHERE owner_id = ? ORDER BY updated_at DESC`, placeCols), ownerID)
	if err != nil {
		return nil, fmt.Errorf("list places: %w", err)
	}
	defer rows.Close()

	var out []models.Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// PendingPlaces returns places eligible for push, oldest first.
func (db *DB) PendingPlaces(ownerID string, now time.Time) ([]models.Place, error) {
	rows, err := db.conn.Query(
		fmt.Sprintf(`SELECT %s FROM places WHERE %s ORDER BY updated_at ASC`, placeCols, pendingWhere),
		ownerID, fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("pending places: %w", err)
	}
	defer rows.Close()

	var out []models.Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
