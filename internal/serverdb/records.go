package serverdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrRecordNotFound is returned by DeleteRecord for ids the server has never
// seen (or already deleted). Clients treat it as success on delete.
var ErrRecordNotFound = errors.New("record not found")

// Record is a canonical server-side record. Timestamps are unix nanoseconds
// so last-write-wins comparisons are exact integer comparisons.
type Record struct {
	EntityType      string
	ID              string
	OwnerID         string
	Payload         json.RawMessage
	TripID          string
	PlaceID         string
	CreatedAtNs     int64
	UpdatedAtNs     int64
	DeletedAtNs     int64 // 0 = live
	UpdatedByDevice string
}

// Deleted reports whether the record is a deletion marker.
func (r *Record) Deleted() bool { return r.DeletedAtNs != 0 }

// logRefs is the subset of a log payload the visibility queries need.
type logRefs struct {
	TripID  string `json:"trip_id"`
	PlaceID string `json:"place_id"`
}

// tripRefs is the subset of a trip payload the sharing table needs.
type tripRefs struct {
	Collaborators []string `json:"collaborators"`
}

// UpsertRecord applies a client write under last-write-wins: the incoming
// record replaces the stored one only if its updated_at is strictly newer.
// A stale write is dropped silently (the losing device pulls the winner
// back). Returns whether the write was applied.
func (db *ServerDB) UpsertRecord(rec *Record) (bool, error) {
	var storedUpdated int64
	err := db.conn.QueryRow(
		`SELECT updated_at_ns FROM records WHERE entity_type = ? AND id = ?`,
		rec.EntityType, rec.ID,
	).Scan(&storedUpdated)
	switch {
	case err == sql.ErrNoRows:
		// first write
	case err != nil:
		return false, fmt.Errorf("read record %s/%s: %w", rec.EntityType, rec.ID, err)
	case storedUpdated >= rec.UpdatedAtNs:
		return false, nil
	}

	if rec.EntityType == "logs" {
		var refs logRefs
		if err := json.Unmarshal(rec.Payload, &refs); err != nil {
			return false, fmt.Errorf("parse log payload %s: %w", rec.ID, err)
		}
		rec.TripID = refs.TripID
		rec.PlaceID = refs.PlaceID
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO records
			(entity_type, id, owner_id, payload, trip_id, place_id, created_at_ns, updated_at_ns, deleted_at_ns, updated_by_device)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		rec.EntityType, rec.ID, rec.OwnerID, string(rec.Payload), rec.TripID, rec.PlaceID,
		rec.CreatedAtNs, rec.UpdatedAtNs, rec.UpdatedByDevice,
	)
	if err != nil {
		return false, fmt.Errorf("upsert record %s/%s: %w", rec.EntityType, rec.ID, err)
	}

	if rec.EntityType == "trips" {
		if err := syncCollaborators(tx, rec); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// syncCollaborators rebuilds the sharing rows for a trip from its payload.
func syncCollaborators(tx *sql.Tx, rec *Record) error {
	var refs tripRefs
	if err := json.Unmarshal(rec.Payload, &refs); err != nil {
		return fmt.Errorf("parse trip payload %s: %w", rec.ID, err)
	}
	if _, err := tx.Exec(`DELETE FROM trip_collaborators WHERE trip_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("clear collaborators %s: %w", rec.ID, err)
	}
	for _, userID := range refs.Collaborators {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO trip_collaborators (trip_id, user_id) VALUES (?, ?)`,
			rec.ID, userID,
		); err != nil {
			return fmt.Errorf("add collaborator %s/%s: %w", rec.ID, userID, err)
		}
	}
	return nil
}

// DeleteRecord soft-deletes a record owned by userID. The row becomes a
// deletion marker that other devices pull. Deleting an unknown or already
// deleted record returns ErrRecordNotFound.
func (db *ServerDB) DeleteRecord(entityType, id, userID, deviceID string) error {
	now := time.Now().UTC().UnixNano()
	res, err := db.conn.Exec(`
		UPDATE records
		SET deleted_at_ns = ?, updated_at_ns = ?, payload = NULL, updated_by_device = ?
		WHERE entity_type = ? AND id = ? AND owner_id = ? AND deleted_at_ns IS NULL`,
		now, now, deviceID, entityType, id, userID,
	)
	if err != nil {
		return fmt.Errorf("delete record %s/%s: %w", entityType, id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// GetRecord returns a record (live or deleted), or nil if unknown.
func (db *ServerDB) GetRecord(entityType, id string) (*Record, error) {
	rec, err := scanRecord(db.conn.QueryRow(
		`SELECT entity_type, id, owner_id, payload, trip_id, place_id,
		        created_at_ns, updated_at_ns, deleted_at_ns, updated_by_device
		 FROM records WHERE entity_type = ? AND id = ?`, entityType, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	rec := &Record{}
	var payload, tripID, placeID sql.NullString
	var deletedNs sql.NullInt64
	err := row.Scan(&rec.EntityType, &rec.ID, &rec.OwnerID, &payload, &tripID, &placeID,
		&rec.CreatedAtNs, &rec.UpdatedAtNs, &deletedNs, &rec.UpdatedByDevice)
	if err != nil {
		return nil, err
	}
	if payload.Valid {
		rec.Payload = json.RawMessage(payload.String)
	}
	rec.TripID = tripID.String
	rec.PlaceID = placeID.String
	rec.DeletedAtNs = deletedNs.Int64
	return rec, nil
}

// visibleWhere scopes a records query to what the user may see: their own
// records, trips shared with them, logs inside shared trips, and the places
// those logs reference. Binds the user id four times, in order.
const visibleWhere = `(
	r.owner_id = ?
	OR (r.entity_type = 'trips' AND r.id IN (SELECT trip_id FROM trip_collaborators WHERE user_id = ?))
	OR (r.entity_type = 'logs' AND r.trip_id IN (SELECT trip_id FROM trip_collaborators WHERE user_id = ?))
	OR (r.entity_type = 'places' AND EXISTS (
		SELECT 1 FROM records l
		WHERE l.entity_type = 'logs' AND l.place_id = r.id AND l.deleted_at_ns IS NULL
		  AND l.trip_id IN (SELECT trip_id FROM trip_collaborators WHERE user_id = ?)))
)`

// ChangedSince returns up to limit visible records of entityType with
// updated_at strictly after sinceNs, oldest first, plus whether more remain.
// Deletion markers are included so clients can remove local copies.
func (db *ServerDB) ChangedSince(userID, entityType string, sinceNs int64, limit int) ([]*Record, bool, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.conn.Query(`
		SELECT r.entity_type, r.id, r.owner_id, r.payload, r.trip_id, r.place_id,
		       r.created_at_ns, r.updated_at_ns, r.deleted_at_ns, r.updated_by_device
		FROM records r
		WHERE r.entity_type = ? AND r.updated_at_ns > ? AND `+visibleWhere+`
		ORDER BY r.updated_at_ns ASC, r.id ASC
		LIMIT ?`,
		entityType, sinceNs, userID, userID, userID, userID, limit+1,
	)
	if err != nil {
		return nil, false, fmt.Errorf("changed since %s: %w", entityType, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate records: %w", err)
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// CanAccess reports whether userID may read or write the record: owners
// always, trip collaborators for shared trips and their logs.
func (db *ServerDB) CanAccess(userID, entityType, id string) (bool, error) {
	rec, err := db.GetRecord(entityType, id)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return true, nil // first write claims the id
	}
	if rec.OwnerID == userID {
		return true, nil
	}

	tripID := ""
	switch entityType {
	case "trips":
		tripID = id
	case "logs":
		tripID = rec.TripID
	}
	if tripID == "" {
		return false, nil
	}
	var one int
	err = db.conn.QueryRow(
		`SELECT 1 FROM trip_collaborators WHERE trip_id = ? AND user_id = ?`,
		tripID, userID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check collaborator: %w", err)
	}
	return true, nil
}

// AudienceFor returns the collaborator user ids that can see a record
// through trip sharing: the trip's collaborators for trips and their logs,
// and collaborators of trips whose live logs reference a place.
func (db *ServerDB) AudienceFor(entityType, id string) ([]string, error) {
	var query string
	switch entityType {
	case "trips":
		query = `SELECT user_id FROM trip_collaborators WHERE trip_id = ?`
	case "logs":
		query = `SELECT tc.user_id FROM trip_collaborators tc
		         JOIN records r ON r.entity_type = 'logs' AND r.id = ? AND r.trip_id = tc.trip_id`
	case "places":
		query = `SELECT DISTINCT tc.user_id FROM trip_collaborators tc
		         JOIN records l ON l.entity_type = 'logs' AND l.place_id = ? AND l.deleted_at_ns IS NULL
		           AND l.trip_id = tc.trip_id`
	default:
		return nil, nil
	}

	rows, err := db.conn.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("audience for %s/%s: %w", entityType, id, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan audience: %w", err)
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}
