package serverdb

import (
	"database/sql"
	"fmt"
	"time"
)

// Attachment is stored blob metadata; the bytes live on disk next to the
// database, addressed by blob id.
type Attachment struct {
	BlobID      string
	OwnerID     string
	URL         string
	Size        int64
	ContentHash string
	CreatedAt   time.Time
}

// InsertAttachment records an uploaded blob. Re-uploading the same blob id
// overwrites the row, which keeps retried uploads idempotent.
func (db *ServerDB) InsertAttachment(a *Attachment) error {
	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO attachments (blob_id, owner_id, url, size, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.BlobID, a.OwnerID, a.URL, a.Size, a.ContentHash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert attachment %s: %w", a.BlobID, err)
	}
	return nil
}

// GetAttachment returns blob metadata, or nil if unknown.
func (db *ServerDB) GetAttachment(blobID string) (*Attachment, error) {
	a := &Attachment{}
	err := db.conn.QueryRow(`
		SELECT blob_id, owner_id, url, size, content_hash, created_at
		FROM attachments WHERE blob_id = ?`, blobID,
	).Scan(&a.BlobID, &a.OwnerID, &a.URL, &a.Size, &a.ContentHash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment %s: %w", blobID, err)
	}
	return a, nil
}
