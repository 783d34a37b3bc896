package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/models"
	"github.com/marcus/wander/internal/syncclient"
)

const testOwner = "user-1"

func newTestStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("initialize store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// fakeRemote is an in-memory server double implementing Remote and
// AttachmentTransport.
type fakeRemote struct {
	mu      sync.Mutex
	records map[string]map[string]syncclient.RemoteRecord // entity -> id -> record

	createErr    func(rec *syncclient.RemoteRecord) error
	deleteErr    func(entityType, id string) error
	uploadErr    func(blobID string) error
	changedDelay time.Duration // slows ChangedSince to keep a cycle in flight
	createSeen []string // "entity/id" in call order
	deleteSeen []string
	uploads    map[string][]byte
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records: map[string]map[string]syncclient.RemoteRecord{},
		uploads: map[string][]byte{},
	}
}

func (f *fakeRemote) Create(_ context.Context, rec *syncclient.RemoteRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createSeen = append(f.createSeen, rec.EntityType+"/"+rec.ID)
	if f.createErr != nil {
		if err := f.createErr(rec); err != nil {
			return err
		}
	}
	if f.records[rec.EntityType] == nil {
		f.records[rec.EntityType] = map[string]syncclient.RemoteRecord{}
	}
	f.records[rec.EntityType][rec.ID] = *rec
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, entityType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteSeen = append(f.deleteSeen, entityType+"/"+id)
	if f.deleteErr != nil {
		if err := f.deleteErr(entityType, id); err != nil {
			return err
		}
	}
	if _, ok := f.records[entityType][id]; !ok {
		return fmt.Errorf("%w: %s/%s", syncclient.ErrNotFound, entityType, id)
	}
	delete(f.records[entityType], id)
	return nil
}

func (f *fakeRemote) ChangedSince(_ context.Context, entityType string, since time.Time, limit int) (*syncclient.ChangesResponse, error) {
	if f.changedDelay > 0 {
		time.Sleep(f.changedDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []syncclient.RemoteRecord
	for _, rec := range f.records[entityType] {
		ts, err := time.Parse(time.RFC3339Nano, rec.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if ts.After(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt < out[j].UpdatedAt })
	hasMore := false
	if limit > 0 && len(out) > limit {
		out = out[:limit]
		hasMore = true
	}
	return &syncclient.ChangesResponse{Records: out, HasMore: hasMore}, nil
}

func (f *fakeRemote) Upload(_ context.Context, blobID string, data io.Reader) (string, error) {
	// The hook runs outside the lock so transfers can overlap.
	if f.uploadErr != nil {
		if err := f.uploadErr(blobID); err != nil {
			return "", err
		}
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.uploads[blobID] = b
	f.mu.Unlock()
	return "https://cdn.example.com/" + blobID, nil
}

// put seeds a remote record directly, bypassing Create bookkeeping.
func (f *fakeRemote) put(entity models.EntityType, id string, payload any, updatedAt time.Time, deleted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	if f.records[string(entity)] == nil {
		f.records[string(entity)] = map[string]syncclient.RemoteRecord{}
	}
	f.records[string(entity)][id] = syncclient.RemoteRecord{
		EntityType: string(entity),
		ID:         id,
		OwnerID:    testOwner,
		Payload:    b,
		CreatedAt:  updatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  updatedAt.UTC().Format(time.RFC3339Nano),
		Deleted:    deleted,
	}
}

func (f *fakeRemote) has(entity models.EntityType, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[string(entity)][id]
	return ok
}

func (f *fakeRemote) createCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.createSeen...)
}

func newTestEngine(t *testing.T) (*Engine, *db.DB, *fakeRemote) {
	t.Helper()
	store := newTestStore(t)
	remote := newFakeRemote()
	return NewEngine(store, remote), store, remote
}

func mustCreatePlace(t *testing.T, store *db.DB, name string) *models.Place {
	t.Helper()
	p := &models.Place{Name: name, Lat: 48.8584, Lng: 2.2945}
	p.OwnerID = testOwner
	if err := store.CreatePlace(p); err != nil {
		t.Fatalf("create place: %v", err)
	}
	return p
}

func mustCreateTrip(t *testing.T, store *db.DB, name string) *models.Trip {
	t.Helper()
	tr := &models.Trip{Name: name}
	tr.OwnerID = testOwner
	if err := store.CreateTrip(tr); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	return tr
}

func mustCreateLog(t *testing.T, store *db.DB, placeID string) *models.Log {
	t.Helper()
	l := &models.Log{PlaceID: placeID, Rating: 5, Note: "great", VisitedAt: time.Now().UTC()}
	l.OwnerID = testOwner
	if err := store.CreateLog(l); err != nil {
		t.Fatalf("create log: %v", err)
	}
	return l
}
