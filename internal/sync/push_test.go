package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/marcus/wander/internal/models"
	"github.com/marcus/wander/internal/syncclient"
)

func TestPushPendingMarksSynced(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	p := mustCreatePlace(t, store, "Eiffel Tower")

	report, err := engine.PushPending(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if report.Pushed != 1 {
		t.Fatalf("pushed = %d, want 1", report.Pushed)
	}
	if !remote.has(models.EntityPlace, p.ID) {
		t.Fatal("record did not reach the server")
	}

	got, err := store.GetPlace(p.ID)
	if err != nil {
		t.Fatalf("get place: %v", err)
	}
	if got.SyncStatus != models.SyncSynced {
		t.Fatalf("status = %s, want synced", got.SyncStatus)
	}
	if got.RetryCount != 0 {
		t.Fatalf("retry count = %d, want 0", got.RetryCount)
	}
}

func TestPushDependencyOrder(t *testing.T) {
	engine, store, remote := newTestEngine(t)

	// Created offline in the same session: a place, a trip, and a log that
	// references both.
	p := mustCreatePlace(t, store, "Sukiyabashi Jiro")
	tr := mustCreateTrip(t, store, "Tokyo 2026")
	l := &models.Log{PlaceID: p.ID, TripID: tr.ID, Rating: 5, VisitedAt: time.Now().UTC()}
	l.OwnerID = testOwner
	if err := store.CreateLog(l); err != nil {
		t.Fatalf("create log: %v", err)
	}

	report, err := engine.PushPending(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if report.Pushed != 3 {
		t.Fatalf("pushed = %d, want 3", report.Pushed)
	}

	calls := remote.createCalls()
	idx := func(prefix string) int {
		for i, c := range calls {
			if strings.HasPrefix(c, prefix) {
				return i
			}
		}
		t.Fatalf("no %s call in %v", prefix, calls)
		return -1
	}
	if idx("places/") > idx("logs/") {
		t.Fatalf("place pushed after dependent log: %v", calls)
	}
	if idx("trips/") > idx("logs/") {
		t.Fatalf("trip pushed after dependent log: %v", calls)
	}
}

func TestPushFailureDefersWithBackoff(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	p := mustCreatePlace(t, store, "flaky")
	remote.createErr = func(*syncclient.RemoteRecord) error {
		return errors.New("connection reset")
	}

	report, err := engine.PushPending(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if report.Failed != 1 || report.Pushed != 0 {
		t.Fatalf("report = %+v, want 1 failed", report)
	}

	got, _ := store.GetPlace(p.ID)
	if got.SyncStatus != models.SyncFailed {
		t.Fatalf("status = %s, want failed", got.SyncStatus)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	if got.NextRetryAt == nil {
		t.Fatal("transient failure must carry a retry time")
	}
	wantDelay := engine.Backoff.Next(1)
	until := time.Until(*got.NextRetryAt)
	if until <= 0 || until > wantDelay+time.Second {
		t.Fatalf("next retry in %v, want about %v", until, wantDelay)
	}

	// Not due yet: the next pass must not touch it.
	calls := len(remote.createCalls())
	if _, err := engine.PushPending(context.Background(), testOwner); err != nil {
		t.Fatalf("second push: %v", err)
	}
	if len(remote.createCalls()) != calls {
		t.Fatal("record retried before its backoff elapsed")
	}
}

func TestPushBackoffGrows(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	p := mustCreatePlace(t, store, "flaky")
	remote.createErr = func(*syncclient.RemoteRecord) error {
		return errors.New("connection reset")
	}

	for attempt := 1; attempt <= 3; attempt++ {
		if _, err := engine.PushPending(context.Background(), testOwner); err != nil {
			t.Fatalf("push %d: %v", attempt, err)
		}
		got, _ := store.GetPlace(p.ID)
		if got.RetryCount != attempt {
			t.Fatalf("after attempt %d retry count = %d", attempt, got.RetryCount)
		}
		wantDelay := engine.Backoff.Next(attempt)
		until := time.Until(*got.NextRetryAt)
		if until <= wantDelay/2 || until > wantDelay+time.Second {
			t.Fatalf("after attempt %d next retry in %v, want about %v", attempt, until, wantDelay)
		}
		// Make it due again for the next pass.
		past := time.Now().Add(-time.Second)
		if err := store.SetStatus(models.EntityPlace, p.ID, models.SyncFailed, attempt, &past); err != nil {
			t.Fatalf("rewind retry time: %v", err)
		}
	}
}

func TestPushValidationFailureIsPermanent(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	p := mustCreatePlace(t, store, "rejected")
	remote.createErr = func(*syncclient.RemoteRecord) error {
		return fmt.Errorf("%w: bad reference", syncclient.ErrValidation)
	}

	if _, err := engine.PushPending(context.Background(), testOwner); err != nil {
		t.Fatalf("push: %v", err)
	}

	got, _ := store.GetPlace(p.ID)
	if got.SyncStatus != models.SyncFailed {
		t.Fatalf("status = %s, want failed", got.SyncStatus)
	}
	if got.NextRetryAt != nil {
		t.Fatal("validation failure must not schedule a retry")
	}

	// Never retried on its own.
	calls := len(remote.createCalls())
	if _, err := engine.PushPending(context.Background(), testOwner); err != nil {
		t.Fatalf("second push: %v", err)
	}
	if len(remote.createCalls()) != calls {
		t.Fatal("permanently failed record was retried")
	}

	// Editing the record re-queues it.
	remote.createErr = nil
	got.Name = "corrected"
	if err := store.UpdatePlace(got); err != nil {
		t.Fatalf("update place: %v", err)
	}
	report, err := engine.PushPending(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("third push: %v", err)
	}
	if report.Pushed != 1 {
		t.Fatalf("pushed = %d after edit, want 1", report.Pushed)
	}
}

func TestPushDeleteNotFoundIsSuccess(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	p := mustCreatePlace(t, store, "ephemeral")

	// Deleted before it ever reached the server.
	if err := store.Delete(models.EntityPlace, p.ID, testOwner); err != nil {
		t.Fatalf("delete: %v", err)
	}

	report, err := engine.PushPending(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if report.Deleted != 1 {
		t.Fatalf("deleted = %d, want 1", report.Deleted)
	}
	n, err := store.CountTombstones(testOwner)
	if err != nil {
		t.Fatalf("count tombstones: %v", err)
	}
	if n != 0 {
		t.Fatalf("tombstones = %d after acknowledged delete, want 0", n)
	}
	if remote.has(models.EntityPlace, p.ID) {
		t.Fatal("deleted record present on server")
	}
}

func TestPushDeleteRetriesUntilAcknowledged(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	p := mustCreatePlace(t, store, "stubborn")
	if _, err := engine.PushPending(context.Background(), testOwner); err != nil {
		t.Fatalf("initial push: %v", err)
	}

	if err := store.Delete(models.EntityPlace, p.ID, testOwner); err != nil {
		t.Fatalf("delete: %v", err)
	}
	remote.deleteErr = func(string, string) error { return errors.New("gateway timeout") }

	report, err := engine.PushPending(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("failed = %d, want 1", report.Failed)
	}
	n, _ := store.CountTombstones(testOwner)
	if n != 1 {
		t.Fatalf("tombstones = %d, want 1 (intent survives failure)", n)
	}

	// Server recovers; make the tombstone due again.
	remote.deleteErr = nil
	past := time.Now().Add(-time.Second)
	if err := store.DeferTombstone(models.EntityPlace, p.ID, 1, past); err != nil {
		t.Fatalf("rewind tombstone: %v", err)
	}
	report, err = engine.PushPending(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("retry push: %v", err)
	}
	if report.Deleted != 1 {
		t.Fatalf("deleted = %d, want 1", report.Deleted)
	}
	if remote.has(models.EntityPlace, p.ID) {
		t.Fatal("record still on server after acknowledged delete")
	}
}

func TestPushFailedPlaceSkipsDependentLog(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	p := mustCreatePlace(t, store, "unreachable")
	l := mustCreateLog(t, store, p.ID)

	remote.createErr = func(rec *syncclient.RemoteRecord) error {
		if rec.EntityType == string(models.EntityPlace) {
			return errors.New("io timeout")
		}
		return nil
	}

	report, err := engine.PushPending(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if report.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1 (log behind failed place)", report.Skipped)
	}
	if remote.has(models.EntityLog, l.ID) {
		t.Fatal("log with dangling place reference reached the server")
	}

	got, _ := store.GetLog(l.ID)
	if got.SyncStatus != models.SyncPending {
		t.Fatalf("skipped log status = %s, want pending (untouched)", got.SyncStatus)
	}
}

func TestPushBackedOffPlaceSkipsDependentLog(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	p := mustCreatePlace(t, store, "unreachable")

	// First pass: the place fails and is parked in backoff.
	remote.createErr = func(rec *syncclient.RemoteRecord) error {
		if rec.EntityType == string(models.EntityPlace) {
			return errors.New("io timeout")
		}
		return nil
	}
	if _, err := engine.PushPending(context.Background(), testOwner); err != nil {
		t.Fatalf("first push: %v", err)
	}
	got, _ := store.GetPlace(p.ID)
	if got.SyncStatus != models.SyncFailed || got.NextRetryAt == nil {
		t.Fatalf("place = %s/%v, want failed with retry time", got.SyncStatus, got.NextRetryAt)
	}

	// A log created afterwards references the parked place. The next pass
	// scans no pending places (the retry is not due), but the log must still
	// wait: the remote has never seen the place.
	l := mustCreateLog(t, store, p.ID)
	remote.createErr = nil

	report, err := engine.PushPending(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("second push: %v", err)
	}
	if report.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1 (log behind parked place)", report.Skipped)
	}
	if remote.has(models.EntityLog, l.ID) {
		t.Fatal("log reached the remote while its place is unknown remotely")
	}
	gotLog, _ := store.GetLog(l.ID)
	if gotLog.SyncStatus != models.SyncPending {
		t.Fatalf("skipped log status = %s, want pending (untouched)", gotLog.SyncStatus)
	}

	// Once the place's retry lands, the log follows.
	past := time.Now().Add(-time.Second)
	if err := store.SetStatus(models.EntityPlace, p.ID, models.SyncFailed, 1, &past); err != nil {
		t.Fatalf("rewind retry time: %v", err)
	}
	report, err = engine.PushPending(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("third push: %v", err)
	}
	if report.Pushed != 2 {
		t.Fatalf("pushed = %d after place recovered, want place+log", report.Pushed)
	}
	if !remote.has(models.EntityLog, l.ID) {
		t.Fatal("log missing from remote after its place synced")
	}
}

func TestPushMidFlightEditStaysPending(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	p := mustCreatePlace(t, store, "before")

	// The edit lands while the record is on the wire: the remote accepts the
	// old snapshot, but the local row must come out pending, not synced, or
	// the edit would never push and the next pull would bury it as stale.
	remote.createErr = func(_ *syncclient.RemoteRecord) error {
		edited, err := store.GetPlace(p.ID)
		if err != nil {
			t.Fatalf("get place: %v", err)
		}
		edited.Name = "after"
		if err := store.UpdatePlace(edited); err != nil {
			t.Fatalf("edit mid-push: %v", err)
		}
		return nil
	}
	report, err := engine.PushPending(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if report.Pushed != 1 {
		t.Fatalf("pushed = %d, want 1", report.Pushed)
	}

	got, err := store.GetPlace(p.ID)
	if err != nil {
		t.Fatalf("get place: %v", err)
	}
	if got.SyncStatus != models.SyncPending {
		t.Fatalf("status = %s, want pending (edit landed mid-push)", got.SyncStatus)
	}
	if got.Name != "after" {
		t.Fatalf("name = %q, want mid-push edit kept", got.Name)
	}

	// The next pass delivers the edited snapshot and settles.
	remote.createErr = nil
	if _, err := engine.PushPending(context.Background(), testOwner); err != nil {
		t.Fatalf("second push: %v", err)
	}
	got, _ = store.GetPlace(p.ID)
	if got.SyncStatus != models.SyncSynced {
		t.Fatalf("status after second push = %s, want synced", got.SyncStatus)
	}
	remote.mu.Lock()
	payload := string(remote.records[string(models.EntityPlace)][p.ID].Payload)
	remote.mu.Unlock()
	if !strings.Contains(payload, "after") {
		t.Fatalf("remote payload = %s, want the edited name", payload)
	}
}

func TestPushOnePlaceUpsertForManyLogs(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	p := mustCreatePlace(t, store, "Noma")
	const nLogs = 10
	for i := 0; i < nLogs; i++ {
		mustCreateLog(t, store, p.ID)
	}

	report, err := engine.PushPending(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if report.Pushed != nLogs+1 {
		t.Fatalf("pushed = %d, want %d", report.Pushed, nLogs+1)
	}
	if report.PlaceUpserts != 1 {
		t.Fatalf("place upserts = %d, want 1 (shared place pushed once)", report.PlaceUpserts)
	}

	placeCalls, logCalls := 0, 0
	for _, call := range remote.createCalls() {
		switch {
		case strings.HasPrefix(call, string(models.EntityPlace)+"/"):
			placeCalls++
		case strings.HasPrefix(call, string(models.EntityLog)+"/"):
			logCalls++
		}
	}
	if placeCalls != 1 {
		t.Fatalf("place create calls = %d, want 1", placeCalls)
	}
	if logCalls != nLogs {
		t.Fatalf("log create calls = %d, want %d", logCalls, nLogs)
	}
}

func TestPushStripsPendingPhotos(t *testing.T) {
	engine, store, remote := newTestEngine(t)
	p := mustCreatePlace(t, store, "photogenic")
	l := mustCreateLog(t, store, p.ID)

	l.Photos = []models.AttachmentRef{
		{URL: "https://cdn.example.com/done"},
		{BlobID: "bl-pending"},
	}
	if err := store.UpdateLog(l); err != nil {
		t.Fatalf("update log: %v", err)
	}

	if _, err := engine.PushPending(context.Background(), testOwner); err != nil {
		t.Fatalf("push: %v", err)
	}

	remote.mu.Lock()
	rec := remote.records[string(models.EntityLog)][l.ID]
	remote.mu.Unlock()
	var wire models.Log
	if err := json.Unmarshal(rec.Payload, &wire); err != nil {
		t.Fatalf("unmarshal wire log: %v", err)
	}
	if len(wire.Photos) != 1 || wire.Photos[0].URL == "" {
		t.Fatalf("wire photos = %+v, want only the resolved one", wire.Photos)
	}
}
