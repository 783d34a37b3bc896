package models

import (
	"time"
)

// SyncStatus represents a record's position in the sync lifecycle.
// It is a local-only field and is never transmitted to the server.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// InFlight reports whether a local edit is still waiting to reach the server.
// Records in this state must never be overwritten by an inbound merge.
func (s SyncStatus) InFlight() bool {
	return s == SyncPending || s == SyncSyncing || s == SyncFailed
}

// EntityType identifies a syncable record table.
type EntityType string

const (
	EntityPlace EntityType = "places"
	EntityTrip  EntityType = "trips"
	EntityLog   EntityType = "logs"
	EntityList  EntityType = "saved_lists"
)

// EntityTypes lists all syncable entity types in dependency order:
// places before trips before logs (a log references both), lists last.
var EntityTypes = []EntityType{EntityPlace, EntityTrip, EntityLog, EntityList}

// ValidEntityType reports whether s names a known entity type.
func ValidEntityType(s string) bool {
	switch EntityType(s) {
	case EntityPlace, EntityTrip, EntityLog, EntityList:
		return true
	}
	return false
}

// Meta carries the sync bookkeeping shared by every syncable record.
type Meta struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"-"`
	RetryCount int        `json:"-"`
	// NextRetryAt is nil when the record is eligible immediately. A failed
	// record with a nil NextRetryAt is a permanent (validation) failure and
	// is skipped by the push scan until the record is edited again.
	NextRetryAt *time.Time `json:"-"`
}

// Place is append-mostly reference data; many logs may point at one place.
type Place struct {
	Meta
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Address  string  `json:"address,omitempty"`
	Category string  `json:"category,omitempty"`
}

// Trip groups logs and may be shared with collaborators, who gain pull
// visibility into the trip.
type Trip struct {
	Meta
	Name          string     `json:"name"`
	Notes         string     `json:"notes,omitempty"` // markdown
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	Collaborators []string   `json:"collaborators,omitempty"`
}

// AttachmentRef is either a durable remote URL or a pending-upload marker
// carrying the local blob identifier. The two are mutually exclusive.
type AttachmentRef struct {
	URL    string `json:"url,omitempty"`
	BlobID string `json:"blob_id,omitempty"`
}

// Pending reports whether the attachment still awaits upload.
func (a AttachmentRef) Pending() bool {
	return a.URL == "" && a.BlobID != ""
}

// Log records a visit to a place, optionally within a trip.
type Log struct {
	Meta
	PlaceID   string          `json:"place_id"`
	TripID    string          `json:"trip_id,omitempty"`
	Rating    int             `json:"rating,omitempty"` // 0 = unrated, 1-5
	Note      string          `json:"note,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	Photos    []AttachmentRef `json:"photos,omitempty"`
	VisitedAt time.Time       `json:"visited_at"`
}

// PendingPhotos returns the blob IDs of photos not yet uploaded.
func (l *Log) PendingPhotos() []string {
	var ids []string
	for _, p := range l.Photos {
		if p.Pending() {
			ids = append(ids, p.BlobID)
		}
	}
	return ids
}

// SavedList is an ordered, named collection of places.
type SavedList struct {
	Meta
	Name     string   `json:"name"`
	PlaceIDs []string `json:"place_ids,omitempty"`
}

// Tombstone is a durable delete-intent. The local row is removed immediately
// (optimistic delete); the tombstone survives restarts and is retried until
// the server acknowledges the delete or reports the record already absent.
type Tombstone struct {
	EntityType  EntityType
	EntityID    string
	OwnerID     string
	DeletedAt   time.Time
	RetryCount  int
	NextRetryAt *time.Time
}

// Upload is a queued attachment transfer.
type Upload struct {
	BlobID      string
	LogID       string
	Path        string // local file path of the blob
	State       UploadState
	RetryCount  int
	NextRetryAt *time.Time
	CreatedAt   time.Time
}

// UploadState tracks an upload through its independent lifecycle.
type UploadState string

const (
	UploadQueued UploadState = "queued"
	UploadDone   UploadState = "done"
	// UploadDead marks a terminal failure after bounded attempts; it surfaces
	// as a missing-attachment warning, never as a record-level failure.
	UploadDead UploadState = "dead"
)
