package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/models"
	"github.com/marcus/wander/internal/syncclient"
)

// localRecord is the entity-agnostic view push works on. The wire closure
// serializes the record lazily, after its status transition. placeRef names
// the place this record depends on, or "" when it stands alone.
type localRecord struct {
	entity    models.EntityType
	id        string
	placeRef  string
	updatedAt time.Time
	wire      func() (*syncclient.RemoteRecord, error)
}

// adapter binds one entity type into the generic push/pull algorithm:
// a pending scan for push and a merge rule for pull. Adding an entity type
// means adding an adapter, not another copy of the engine.
type adapter struct {
	entity  models.EntityType
	pending func(store *db.DB, ownerID string, now time.Time) ([]localRecord, error)
	merge   func(store *db.DB, rec *syncclient.RemoteRecord) (mergeOutcome, error)
}

type mergeOutcome int

const (
	mergeApplied mergeOutcome = iota
	mergeSkippedInFlight
	mergeSkippedStale
	mergeDeleted
	mergeDeletedNoop
)

// adapters is in dependency order: places are upserted before the trips and
// logs that reference them.
var adapters = []adapter{
	{
		entity: models.EntityPlace,
		pending: func(store *db.DB, ownerID string, now time.Time) ([]localRecord, error) {
			places, err := store.PendingPlaces(ownerID, now)
			if err != nil {
				return nil, err
			}
			out := make([]localRecord, 0, len(places))
			for i := range places {
				p := places[i]
				out = append(out, localRecord{
					entity:    models.EntityPlace,
					id:        p.ID,
					updatedAt: p.UpdatedAt,
					wire:      func() (*syncclient.RemoteRecord, error) { return wireRecord(models.EntityPlace, p.Meta, p) },
				})
			}
			return out, nil
		},
		merge: func(store *db.DB, rec *syncclient.RemoteRecord) (mergeOutcome, error) {
			var p models.Place
			if err := json.Unmarshal(rec.Payload, &p); err != nil {
				return 0, fmt.Errorf("unmarshal place %s: %w", rec.ID, err)
			}
			local, err := store.GetPlace(rec.ID)
			if err != nil {
				return 0, err
			}
			outcome := decide(local != nil, localMeta(local), rec)
			switch outcome {
			case mergeApplied:
				p.SyncStatus = models.SyncSynced
				return outcome, store.UpsertPlace(&p, models.SyncSynced)
			case mergeDeleted:
				return outcome, store.RemoveLocal(models.EntityPlace, rec.ID)
			}
			return outcome, nil
		},
	},
	{
		entity: models.EntityTrip,
		pending: func(store *db.DB, ownerID string, now time.Time) ([]localRecord, error) {
			trips, err := store.PendingTrips(ownerID, now)
			if err != nil {
				return nil, err
			}
			out := make([]localRecord, 0, len(trips))
			for i := range trips {
				t := trips[i]
				out = append(out, localRecord{
					entity:    models.EntityTrip,
					id:        t.ID,
					updatedAt: t.UpdatedAt,
					wire:      func() (*syncclient.RemoteRecord, error) { return wireRecord(models.EntityTrip, t.Meta, t) },
				})
			}
			return out, nil
		},
		merge: func(store *db.DB, rec *syncclient.RemoteRecord) (mergeOutcome, error) {
			var t models.Trip
			if err := json.Unmarshal(rec.Payload, &t); err != nil {
				return 0, fmt.Errorf("unmarshal trip %s: %w", rec.ID, err)
			}
			local, err := store.GetTrip(rec.ID)
			if err != nil {
				return 0, err
			}
			outcome := decide(local != nil, localMeta(local), rec)
			switch outcome {
			case mergeApplied:
				t.SyncStatus = models.SyncSynced
				return outcome, store.UpsertTrip(&t, models.SyncSynced)
			case mergeDeleted:
				return outcome, store.RemoveLocal(models.EntityTrip, rec.ID)
			}
			return outcome, nil
		},
	},
	{
		entity: models.EntityLog,
		pending: func(store *db.DB, ownerID string, now time.Time) ([]localRecord, error) {
			logs, err := store.PendingLogs(ownerID, now)
			if err != nil {
				return nil, err
			}
			out := make([]localRecord, 0, len(logs))
			for i := range logs {
				l := logs[i]
				out = append(out, localRecord{
					entity:    models.EntityLog,
					id:        l.ID,
					placeRef:  l.PlaceID,
					updatedAt: l.UpdatedAt,
					wire: func() (*syncclient.RemoteRecord, error) {
						// Attachments still uploading are stripped from the
						// payload; the record's other fields sync now and the
						// uploader triggers a follow-up push with the URL.
						w := l
						w.Photos = resolvedPhotos(l.Photos)
						return wireRecord(models.EntityLog, l.Meta, w)
					},
				})
			}
			return out, nil
		},
		merge: func(store *db.DB, rec *syncclient.RemoteRecord) (mergeOutcome, error) {
			var l models.Log
			if err := json.Unmarshal(rec.Payload, &l); err != nil {
				return 0, fmt.Errorf("unmarshal log %s: %w", rec.ID, err)
			}
			local, err := store.GetLog(rec.ID)
			if err != nil {
				return 0, err
			}
			outcome := decide(local != nil, localMeta(local), rec)
			switch outcome {
			case mergeApplied:
				l.SyncStatus = models.SyncSynced
				return outcome, store.UpsertLog(&l, models.SyncSynced)
			case mergeDeleted:
				return outcome, store.RemoveLocal(models.EntityLog, rec.ID)
			}
			return outcome, nil
		},
	},
	{
		entity: models.EntityList,
		pending: func(store *db.DB, ownerID string, now time.Time) ([]localRecord, error) {
			lists, err := store.PendingSavedLists(ownerID, now)
			if err != nil {
				return nil, err
			}
			out := make([]localRecord, 0, len(lists))
			for i := range lists {
				sl := lists[i]
				out = append(out, localRecord{
					entity:    models.EntityList,
					id:        sl.ID,
					updatedAt: sl.UpdatedAt,
					wire:      func() (*syncclient.RemoteRecord, error) { return wireRecord(models.EntityList, sl.Meta, sl) },
				})
			}
			return out, nil
		},
		merge: func(store *db.DB, rec *syncclient.RemoteRecord) (mergeOutcome, error) {
			var sl models.SavedList
			if err := json.Unmarshal(rec.Payload, &sl); err != nil {
				return 0, fmt.Errorf("unmarshal saved list %s: %w", rec.ID, err)
			}
			local, err := store.GetSavedList(rec.ID)
			if err != nil {
				return 0, err
			}
			outcome := decide(local != nil, localMeta(local), rec)
			switch outcome {
			case mergeApplied:
				sl.SyncStatus = models.SyncSynced
				return outcome, store.UpsertSavedList(&sl, models.SyncSynced)
			case mergeDeleted:
				return outcome, store.RemoveLocal(models.EntityList, rec.ID)
			}
			return outcome, nil
		},
	},
}

// localMeta extracts the shared sync metadata from any of the four record
// pointers, tolerating typed nils.
func localMeta(v any) *models.Meta {
	switch r := v.(type) {
	case *models.Place:
		if r != nil {
			return &r.Meta
		}
	case *models.Trip:
		if r != nil {
			return &r.Meta
		}
	case *models.Log:
		if r != nil {
			return &r.Meta
		}
	case *models.SavedList:
		if r != nil {
			return &r.Meta
		}
	}
	return nil
}

// decide applies the merge rule: inserts land as synced; last-write-
// wins when the local record is synced; any in-flight local state wins over
// the inbound snapshot regardless of timestamps.
func decide(exists bool, local *models.Meta, rec *syncclient.RemoteRecord) mergeOutcome {
	if !exists || local == nil {
		if rec.Deleted {
			return mergeDeletedNoop
		}
		return mergeApplied
	}
	if local.SyncStatus.InFlight() {
		return mergeSkippedInFlight
	}
	remoteUpdated, err := time.Parse(time.RFC3339Nano, rec.UpdatedAt)
	if err != nil {
		// Unparseable remote timestamp: never let it clobber local state.
		return mergeSkippedStale
	}
	if rec.Deleted {
		return mergeDeleted
	}
	if remoteUpdated.After(local.UpdatedAt) {
		return mergeApplied
	}
	return mergeSkippedStale // ties keep local
}

// wireRecord serializes a record for transport. Local-only sync metadata is
// excluded by the models' json tags.
func wireRecord(entity models.EntityType, meta models.Meta, payload any) (*syncclient.RemoteRecord, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s %s: %w", entity, meta.ID, err)
	}
	return &syncclient.RemoteRecord{
		EntityType: string(entity),
		ID:         meta.ID,
		OwnerID:    meta.OwnerID,
		Payload:    b,
		CreatedAt:  meta.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  meta.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

// resolvedPhotos returns only attachments that already have a remote URL.
func resolvedPhotos(photos []models.AttachmentRef) []models.AttachmentRef {
	var out []models.AttachmentRef
	for _, p := range photos {
		if !p.Pending() {
			out = append(out, p)
		}
	}
	return out
}
