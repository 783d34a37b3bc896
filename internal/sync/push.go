package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/wander/internal/models"
)

// PushPending uploads every record awaiting sync for the owner: queued
// delete-intents first, then pending records in dependency order (places
// before the trips and logs that reference them), oldest first within each
// type. Individual failures defer the record with backoff and never abort
// the batch. The scheduler guarantees at most one pass per owner at a time.
func (e *Engine) PushPending(ctx context.Context, ownerID string) (PushReport, error) {
	var report PushReport
	now := time.Now()

	if err := e.pushTombstones(ctx, ownerID, now, &report); err != nil {
		return report, err
	}

	for _, a := range adapters {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		records, err := a.pending(e.store, ownerID, now)
		if err != nil {
			return report, fmt.Errorf("scan pending %s: %w", a.entity, err)
		}

		for _, rec := range records {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}

			// Dependency guard: a log must never reference a place the remote
			// store doesn't know about. Places push first within the pass, so
			// by the time logs run the referenced place is synced unless its
			// upsert failed now or is still parked in backoff from an earlier
			// pass; defer the log untouched in either case.
			blocked, err := e.placeUnsynced(rec.placeRef)
			if err != nil {
				return report, err
			}
			if blocked {
				report.Skipped++
				continue
			}

			ok := e.pushOne(ctx, rec, &report)
			if ok && a.entity == models.EntityPlace {
				report.PlaceUpserts++
			}
		}
	}

	slog.Debug("push pass complete", "owner", ownerID,
		"pushed", report.Pushed, "failed", report.Failed,
		"skipped", report.Skipped, "deleted", report.Deleted)
	return report, nil
}

// pushOne uploads a single record, walking it through
// pending -> syncing -> {synced | failed}. Returns true on success.
func (e *Engine) pushOne(ctx context.Context, rec localRecord, report *PushReport) bool {
	prevRetries, rerr := e.currentRetryCount(rec)
	if rerr != nil {
		slog.Warn("read retry count", "entity", rec.entity, "id", rec.id, "err", rerr)
	}

	if err := e.store.SetStatus(rec.entity, rec.id, models.SyncSyncing, prevRetries, nil); err != nil {
		slog.Warn("mark syncing", "entity", rec.entity, "id", rec.id, "err", err)
		report.Failed++
		return false
	}
	e.emit(rec.entity, rec.id, models.SyncSyncing)

	wire, err := rec.wire()
	if err == nil {
		callCtx, cancel := e.callCtx(ctx)
		err = e.remote.Create(callCtx, wire)
		cancel()
	}

	if err == nil {
		won, serr := e.store.MarkSynced(rec.entity, rec.id)
		if serr != nil {
			slog.Warn("mark synced", "entity", rec.entity, "id", rec.id, "err", serr)
		}
		if won {
			e.emit(rec.entity, rec.id, models.SyncSynced)
		} else {
			// An edit landed while the record was in flight. The row is
			// pending again and the next pass carries the newer snapshot.
			slog.Debug("record edited mid-push, staying pending",
				"entity", rec.entity, "id", rec.id)
		}
		report.Pushed++
		return true
	}

	e.deferRecord(rec, prevRetries, err)
	report.Failed++
	return false
}

// deferRecord parks a failed record: validation failures permanently (no
// retry time; editing the record re-queues it), everything else with
// exponential backoff. Failures are never dropped, only deferred.
func (e *Engine) deferRecord(rec localRecord, prevRetries int, cause error) {
	retries := prevRetries + 1

	var nextRetry *time.Time
	if !isValidation(cause) {
		t := time.Now().Add(e.Backoff.Next(retries))
		nextRetry = &t
	}

	if err := e.store.SetStatus(rec.entity, rec.id, models.SyncFailed, retries, nextRetry); err != nil {
		slog.Warn("mark failed", "entity", rec.entity, "id", rec.id, "err", err)
	}
	e.emit(rec.entity, rec.id, models.SyncFailed)
	slog.Warn("push record failed", "entity", rec.entity, "id", rec.id,
		"retries", retries, "permanent", isValidation(cause), "err", cause)
}

func (e *Engine) currentRetryCount(rec localRecord) (int, error) {
	switch rec.entity {
	case models.EntityPlace:
		p, err := e.store.GetPlace(rec.id)
		if err != nil || p == nil {
			return 0, err
		}
		return p.RetryCount, nil
	case models.EntityTrip:
		t, err := e.store.GetTrip(rec.id)
		if err != nil || t == nil {
			return 0, err
		}
		return t.RetryCount, nil
	case models.EntityLog:
		l, err := e.store.GetLog(rec.id)
		if err != nil || l == nil {
			return 0, err
		}
		return l.RetryCount, nil
	case models.EntityList:
		sl, err := e.store.GetSavedList(rec.id)
		if err != nil || sl == nil {
			return 0, err
		}
		return sl.RetryCount, nil
	}
	return 0, nil
}

// pushTombstones replays durable delete-intents. A not-found response means
// the record is already gone remotely and counts as success.
func (e *Engine) pushTombstones(ctx context.Context, ownerID string, now time.Time, report *PushReport) error {
	tombs, err := e.store.DueTombstones(ownerID, now)
	if err != nil {
		return fmt.Errorf("scan tombstones: %w", err)
	}

	for _, t := range tombs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		callCtx, cancel := e.callCtx(ctx)
		err := e.remote.Delete(callCtx, string(t.EntityType), t.EntityID)
		cancel()

		if err == nil || isNotFound(err) {
			if rerr := e.store.RemoveTombstone(t.EntityType, t.EntityID); rerr != nil {
				return fmt.Errorf("remove tombstone %s/%s: %w", t.EntityType, t.EntityID, rerr)
			}
			report.Deleted++
			continue
		}

		retries := t.RetryCount + 1
		next := time.Now().Add(e.Backoff.Next(retries))
		if derr := e.store.DeferTombstone(t.EntityType, t.EntityID, retries, next); derr != nil {
			return fmt.Errorf("defer tombstone %s/%s: %w", t.EntityType, t.EntityID, derr)
		}
		report.Failed++
		slog.Warn("delete-intent deferred", "entity", t.EntityType, "id", t.EntityID,
			"retries", retries, "err", err)
	}
	return nil
}

// placeUnsynced reports whether the referenced place exists locally but has
// not been confirmed by the server. A missing local place is not blocking:
// the record's reference may resolve remotely, and the server validates it
// either way.
func (e *Engine) placeUnsynced(placeID string) (bool, error) {
	if placeID == "" {
		return false, nil
	}
	p, err := e.store.GetPlace(placeID)
	if err != nil {
		return false, err
	}
	return p != nil && p.SyncStatus != models.SyncSynced, nil
}
