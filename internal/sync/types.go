// Package sync is the synchronization engine: outbound push of local pending
// mutations, inbound pull of remote changes, asynchronous attachment uploads,
// and the scheduler that decides when each runs.
package sync

import (
	"context"
	"io"
	"time"

	"github.com/marcus/wander/internal/models"
	"github.com/marcus/wander/internal/syncclient"
)

// Remote is the subset of the sync server API the engine needs. Calls are
// idempotent at the API contract level: create of an existing id is an
// update, delete of an absent id reports not-found which push treats as
// success.
type Remote interface {
	Create(ctx context.Context, rec *syncclient.RemoteRecord) error
	Delete(ctx context.Context, entityType, id string) error
	ChangedSince(ctx context.Context, entityType string, since time.Time, limit int) (*syncclient.ChangesResponse, error)
}

// AttachmentTransport uploads a blob and returns its durable remote URL.
type AttachmentTransport interface {
	Upload(ctx context.Context, blobID string, data io.Reader) (string, error)
}

// PushReport summarises one outbound pass.
type PushReport struct {
	Pushed       int // records acknowledged by the server
	Failed       int // records deferred for retry
	Skipped      int // records not eligible this pass
	Deleted      int // tombstones acknowledged
	PlaceUpserts int // dependency upserts issued ahead of logs
}

// PullReport summarises one inbound pass.
type PullReport struct {
	Applied int // remote records merged into the local store
	Skipped int // discarded snapshots (in-flight local edit wins)
	Failed  int // records that could not be merged
	Deleted int // remote deletions applied locally
}

// UploadReport summarises one attachment pass.
type UploadReport struct {
	Uploaded int
	Deferred int
	Dead     int
}

// StatusEvent is one transition on the per-record sync status stream exposed
// to the UI layer.
type StatusEvent struct {
	EntityType models.EntityType
	ID         string
	Status     models.SyncStatus
	At         time.Time
}
