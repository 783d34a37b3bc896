package sync

import (
	"context"
	"testing"
	"time"

	"github.com/marcus/wander/internal/models"
)

func TestPullInsertsRemoteRecords(t *testing.T) {
	engine, store, remote := newTestEngine(t)

	now := time.Now().UTC()
	p := models.Place{Name: "Louvre", Lat: 48.8606, Lng: 2.3376}
	p.ID = "pl-remote1"
	p.OwnerID = testOwner
	p.CreatedAt = now
	p.UpdatedAt = now
	remote.put(models.EntityPlace, p.ID, p, now, false)

	report, err := engine.PullRemoteChanges(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if report.Applied != 1 {
		t.Fatalf("applied = %d, want 1", report.Applied)
	}

	got, err := store.GetPlace(p.ID)
	if err != nil {
		t.Fatalf("get place: %v", err)
	}
	if got == nil {
		t.Fatal("remote record not in local store")
	}
	if got.SyncStatus != models.SyncSynced {
		t.Fatalf("merged record status = %s, want synced", got.SyncStatus)
	}
	if got.Name != "Louvre" {
		t.Fatalf("name = %q", got.Name)
	}
}

func TestPullNewerRemoteWins(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	p := mustCreatePlace(t, store, "old name")
	if _, err := engine.PushPending(context.Background(), testOwner); err != nil {
		t.Fatalf("push: %v", err)
	}

	// Another device edited the same place later.
	newer := *p
	newer.Name = "new name"
	newer.UpdatedAt = p.UpdatedAt.Add(time.Minute)
	remote.put(models.EntityPlace, p.ID, newer, newer.UpdatedAt, false)

	report, err := engine.PullRemoteChanges(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if report.Applied != 1 {
		t.Fatalf("applied = %d, want 1", report.Applied)
	}
	got, _ := store.GetPlace(p.ID)
	if got.Name != "new name" {
		t.Fatalf("name = %q, want remote edit applied", got.Name)
	}
}

func TestPullStaleRemoteKeepsLocal(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	p := mustCreatePlace(t, store, "current")
	if _, err := engine.PushPending(context.Background(), testOwner); err != nil {
		t.Fatalf("push: %v", err)
	}

	stale := *p
	stale.Name = "outdated"
	stale.UpdatedAt = p.UpdatedAt.Add(-time.Minute)
	remote.put(models.EntityPlace, p.ID, stale, stale.UpdatedAt, false)
	// The record must change since the watermark to be fetched at all.
	if err := store.SetWatermark(testOwner, models.EntityPlace, stale.UpdatedAt.Add(-time.Hour)); err != nil {
		t.Fatalf("set watermark: %v", err)
	}

	report, err := engine.PullRemoteChanges(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if report.Applied != 0 {
		t.Fatalf("applied = %d, want 0", report.Applied)
	}
	got, _ := store.GetPlace(p.ID)
	if got.Name != "current" {
		t.Fatalf("name = %q, stale snapshot overwrote local", got.Name)
	}
}

func TestPullInFlightLocalWins(t *testing.T) {
	engine, store, remote := newTestEngine(t)

	// Local edit still waiting to sync; the server holds a newer snapshot
	// from another device. The inbound snapshot must be discarded and the
	// watermark pinned so it is re-fetched after push resolves the conflict.
	p := mustCreatePlace(t, store, "my offline edit")
	theirs := *p
	theirs.Name = "their edit"
	theirs.UpdatedAt = p.UpdatedAt.Add(time.Hour)
	remote.put(models.EntityPlace, p.ID, theirs, theirs.UpdatedAt, false)

	report, err := engine.PullRemoteChanges(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if report.Skipped != 1 || report.Applied != 0 {
		t.Fatalf("report = %+v, want 1 skipped", report)
	}

	got, _ := store.GetPlace(p.ID)
	if got.Name != "my offline edit" || got.SyncStatus != models.SyncPending {
		t.Fatalf("in-flight record overwritten: name=%q status=%s", got.Name, got.SyncStatus)
	}

	mark, err := store.GetWatermark(testOwner, models.EntityPlace)
	if err != nil {
		t.Fatalf("get watermark: %v", err)
	}
	if !mark.IsZero() {
		t.Fatalf("watermark advanced past a skipped record: %v", mark)
	}

	// After the local edit pushes, the skipped snapshot is re-fetched and
	// loses last-write-wins only if older; here push bumps nothing, so the
	// re-fetched remote snapshot (newer) now applies.
	if _, err := engine.PushPending(context.Background(), testOwner); err != nil {
		t.Fatalf("push: %v", err)
	}
	// The push overwrote the server copy; seed their edit again as the
	// winning later write.
	theirs.UpdatedAt = theirs.UpdatedAt.Add(time.Hour)
	remote.put(models.EntityPlace, p.ID, theirs, theirs.UpdatedAt, false)

	report, err = engine.PullRemoteChanges(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if report.Applied != 1 {
		t.Fatalf("second pull applied = %d, want 1", report.Applied)
	}
	got, _ = store.GetPlace(p.ID)
	if got.Name != "their edit" {
		t.Fatalf("name = %q, want last write to win after conflict window closed", got.Name)
	}
}

func TestPullRemoteDeleteRemovesLocal(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	p := mustCreatePlace(t, store, "doomed")
	if _, err := engine.PushPending(context.Background(), testOwner); err != nil {
		t.Fatalf("push: %v", err)
	}

	remote.put(models.EntityPlace, p.ID, struct{}{}, p.UpdatedAt.Add(time.Minute), true)

	report, err := engine.PullRemoteChanges(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if report.Deleted != 1 {
		t.Fatalf("deleted = %d, want 1", report.Deleted)
	}
	got, err := store.GetPlace(p.ID)
	if err != nil {
		t.Fatalf("get place: %v", err)
	}
	if got != nil {
		t.Fatal("record still present after remote delete")
	}
	// No new tombstone: the delete came from the server.
	n, _ := store.CountTombstones(testOwner)
	if n != 0 {
		t.Fatalf("tombstones = %d, want 0", n)
	}
}

func TestPullDeleteOfUnknownRecordIsNoop(t *testing.T) {
	engine, _, remote := newTestEngine(t)
	remote.put(models.EntityPlace, "pl-ghost", struct{}{}, time.Now().UTC(), true)

	report, err := engine.PullRemoteChanges(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if report.Failed != 0 || report.Deleted != 0 {
		t.Fatalf("report = %+v, want clean noop", report)
	}
}

func TestPullWatermarkAdvancesAndBoundsNextPull(t *testing.T) {
	engine, store, remote := newTestEngine(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i, name := range []string{"a", "b", "c"} {
		p := models.Place{Name: name}
		p.ID = "pl-wm" + name
		p.OwnerID = testOwner
		ts := base.Add(time.Duration(i) * time.Second)
		p.CreatedAt = ts
		p.UpdatedAt = ts
		remote.put(models.EntityPlace, p.ID, p, ts, false)
	}

	if _, err := engine.PullRemoteChanges(context.Background(), testOwner); err != nil {
		t.Fatalf("pull: %v", err)
	}
	mark, err := store.GetWatermark(testOwner, models.EntityPlace)
	if err != nil {
		t.Fatalf("get watermark: %v", err)
	}
	if want := base.Add(2 * time.Second); !mark.Equal(want) {
		t.Fatalf("watermark = %v, want %v", mark, want)
	}

	// A second pull fetches nothing new.
	report, err := engine.PullRemoteChanges(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if report.Applied != 0 {
		t.Fatalf("second pull applied = %d, want 0", report.Applied)
	}
}

func TestPullWatermarkPinnedBySkippedRecord(t *testing.T) {
	engine, store, remote := newTestEngine(t)

	// Middle record has an in-flight local edit; the batch around it merges,
	// but the watermark must stop before the skipped record so it is
	// re-fetched on the next pass.
	base := time.Now().UTC().Add(time.Minute)
	mine := mustCreatePlace(t, store, "in flight")

	first := models.Place{Name: "first"}
	first.ID = "pl-first"
	first.OwnerID = testOwner
	first.CreatedAt = base
	first.UpdatedAt = base
	remote.put(models.EntityPlace, first.ID, first, base, false)

	theirs := *mine
	theirs.Name = "their edit"
	theirs.UpdatedAt = base.Add(time.Second)
	remote.put(models.EntityPlace, mine.ID, theirs, theirs.UpdatedAt, false)

	last := models.Place{Name: "last"}
	last.ID = "pl-last"
	last.OwnerID = testOwner
	last.CreatedAt = base.Add(2 * time.Second)
	last.UpdatedAt = base.Add(2 * time.Second)
	remote.put(models.EntityPlace, last.ID, last, last.UpdatedAt, false)

	report, err := engine.PullRemoteChanges(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if report.Applied != 2 || report.Skipped != 1 {
		t.Fatalf("report = %+v, want 2 applied 1 skipped", report)
	}

	mark, _ := store.GetWatermark(testOwner, models.EntityPlace)
	if !mark.Equal(base) {
		t.Fatalf("watermark = %v, want pinned at %v (before the skip)", mark, base)
	}
}

func TestPullPagesThroughLargeDeltas(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	engine.PullLimit = 2

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		p := models.Place{Name: "page"}
		p.ID = "pl-page" + string(rune('a'+i))
		p.OwnerID = testOwner
		ts := base.Add(time.Duration(i) * time.Second)
		p.CreatedAt = ts
		p.UpdatedAt = ts
		remote.put(models.EntityPlace, p.ID, p, ts, false)
	}

	report, err := engine.PullRemoteChanges(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if report.Applied != 5 {
		t.Fatalf("applied = %d, want 5 across pages", report.Applied)
	}
	places, err := store.ListPlaces(testOwner)
	if err != nil {
		t.Fatalf("list places: %v", err)
	}
	if len(places) != 5 {
		t.Fatalf("local places = %d, want 5", len(places))
	}
}
