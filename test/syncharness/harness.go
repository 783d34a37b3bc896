// Package syncharness spins up a real wander-sync server and simulates
// multiple devices, each with its own local store and sync engine, to
// exercise full push/pull/upload flows over HTTP.
package syncharness

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marcus/wander/internal/api"
	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/serverdb"
	wandersync "github.com/marcus/wander/internal/sync"
	"github.com/marcus/wander/internal/syncclient"
)

// Harness owns one server and any number of simulated devices.
type Harness struct {
	t       *testing.T
	Server  *httptest.Server
	Store   *serverdb.ServerDB
	BaseURL string

	dbPath string
}

// NewHarness starts a wander-sync server on a loopback listener.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "server.db")
	store, err := serverdb.Open(dbPath)
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	// The listener comes first so the config can carry the final base URL
	// (attachment URLs are minted from it).
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	baseURL := "http://" + ln.Addr().String()

	cfg := api.Config{
		ListenAddr:      ln.Addr().String(),
		ServerDBPath:    dbPath,
		BlobDir:         filepath.Join(dir, "blobs"),
		BaseURL:         baseURL,
		ShutdownTimeout: 5 * time.Second,
		AllowSignup:     true,
		MaxBlobSize:     1 << 20,
		RateLimitAuth:   100000,
		RateLimitWrite:  100000,
		RateLimitRead:   100000,
		RateLimitOther:  100000,
	}

	srv, err := api.NewServer(cfg, store)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	hs := &httptest.Server{
		Listener: ln,
		Config:   &http.Server{Handler: srv.Handler()},
	}
	hs.Start()
	t.Cleanup(hs.Close)

	return &Harness{
		t:       t,
		Server:  hs,
		Store:   store,
		BaseURL: baseURL,
		dbPath:  dbPath,
	}
}

// CreateUser registers a user and mints an API key for it.
func (h *Harness) CreateUser(email string) (userID, apiKey string) {
	h.t.Helper()
	user, err := h.Store.CreateUser(email)
	if err != nil {
		h.t.Fatalf("create user: %v", err)
	}
	plaintext, _, err := h.Store.GenerateAPIKey(user.ID, "harness", nil)
	if err != nil {
		h.t.Fatalf("generate api key: %v", err)
	}
	return user.ID, plaintext
}

// Device is one simulated install: its own local store, client, and engine.
type Device struct {
	ID       string
	Owner    string
	DB       *db.DB
	Client   *syncclient.Client
	Engine   *wandersync.Engine
	Uploader *wandersync.Uploader
}

// NewDevice creates a device for the given user with an empty local store.
func (h *Harness) NewDevice(owner, apiKey, deviceID string) *Device {
	h.t.Helper()

	store, err := db.Initialize(h.t.TempDir())
	if err != nil {
		h.t.Fatalf("initialize device store: %v", err)
	}
	h.t.Cleanup(func() { store.Close() })

	client := syncclient.New(h.BaseURL, apiKey, deviceID)
	return &Device{
		ID:       deviceID,
		Owner:    owner,
		DB:       store,
		Client:   client,
		Engine:   wandersync.NewEngine(store, client),
		Uploader: wandersync.NewUploader(store, client),
	}
}

// Sync runs one full cycle: push, pull, attachment uploads.
func (d *Device) Sync(ctx context.Context, t *testing.T) (wandersync.PushReport, wandersync.PullReport) {
	t.Helper()
	push, err := d.Engine.PushPending(ctx, d.Owner)
	if err != nil {
		t.Fatalf("push (%s): %v", d.ID, err)
	}
	pull, err := d.Engine.PullRemoteChanges(ctx, d.Owner)
	if err != nil {
		t.Fatalf("pull (%s): %v", d.ID, err)
	}
	if _, err := d.Uploader.ProcessDue(ctx); err != nil {
		t.Fatalf("uploads (%s): %v", d.ID, err)
	}
	return push, pull
}

// Push runs an outbound pass only.
func (d *Device) Push(ctx context.Context, t *testing.T) wandersync.PushReport {
	t.Helper()
	report, err := d.Engine.PushPending(ctx, d.Owner)
	if err != nil {
		t.Fatalf("push (%s): %v", d.ID, err)
	}
	return report
}

// Pull runs an inbound pass only.
func (d *Device) Pull(ctx context.Context, t *testing.T) wandersync.PullReport {
	t.Helper()
	report, err := d.Engine.PullRemoteChanges(ctx, d.Owner)
	if err != nil {
		t.Fatalf("pull (%s): %v", d.ID, err)
	}
	return report
}

// RawServerDB opens the server database read-only for direct row inspection,
// independent of the API surface.
func (h *Harness) RawServerDB() *sql.DB {
	h.t.Helper()
	raw, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", h.dbPath))
	if err != nil {
		h.t.Fatalf("open raw server db: %v", err)
	}
	h.t.Cleanup(func() { raw.Close() })
	return raw
}

// ServerRecordCount counts live (non-deleted) rows of one entity type
// straight from the server database.
func (h *Harness) ServerRecordCount(entityType string) int {
	h.t.Helper()
	raw := h.RawServerDB()
	var n int
	err := raw.QueryRow(
		`SELECT COUNT(*) FROM records WHERE entity_type = ? AND deleted_at_ns IS NULL`,
		entityType,
	).Scan(&n)
	if err != nil {
		h.t.Fatalf("count server records: %v", err)
	}
	return n
}

// ServerRecordDeleted reports whether the server holds a deletion marker for
// the record: deleted flag set and payload cleared.
func (h *Harness) ServerRecordDeleted(entityType, id string) bool {
	h.t.Helper()
	raw := h.RawServerDB()
	var deletedNs sql.NullInt64
	var payload sql.NullString
	err := raw.QueryRow(
		`SELECT deleted_at_ns, payload FROM records WHERE entity_type = ? AND id = ?`,
		entityType, id,
	).Scan(&deletedNs, &payload)
	if err != nil {
		h.t.Fatalf("inspect server record: %v", err)
	}
	return deletedNs.Valid && deletedNs.Int64 != 0 && !payload.Valid
}
