package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/wander/internal/models"
)

// GetWatermark returns the delta-pull boundary for (owner, entity type).
// The zero time means "never pulled" and bounds the first pull at everything.
// Only a genuinely missing row maps to zero; a read error must not silently
// reset the boundary and trigger a full re-pull.
func (db *DB) GetWatermark(ownerID string, entity models.EntityType) (time.Time, error) {
	var s string
	err := db.conn.QueryRow(
		`SELECT watermark FROM sync_watermarks WHERE owner_id = ? AND entity_type = ?`,
		ownerID, string(entity),
	).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get watermark %s/%s: %w", ownerID, entity, err)
	}
	t, err := parseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse watermark %s/%s: %w", ownerID, entity, err)
	}
	return t, nil
}

// SetWatermark advances the delta-pull boundary. Never moves backwards: a
// concurrent or replayed batch cannot regress the boundary and cause
// re-skipping of already merged records.
func (db *DB) SetWatermark(ownerID string, entity models.EntityType, mark time.Time) error {
	current, err := db.GetWatermark(ownerID, entity)
	if err != nil {
		return err
	}
	if !mark.After(current) {
		return nil
	}
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(
			`INSERT OR REPLACE INTO sync_watermarks (owner_id, entity_type, watermark, updated_at)
			 VALUES (?, ?, ?, ?)`,
			ownerID, string(entity), fmtTime(mark), fmtTime(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("set watermark %s/%s: %w", ownerID, entity, err)
		}
		return nil
	})
}
