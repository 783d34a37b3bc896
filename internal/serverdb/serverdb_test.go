package serverdb

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *ServerDB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// --- User tests ---

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)
	u, err := db.CreateUser("Alice@Example.COM")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email not lowercased: %s", u.Email)
	}
	if !strings.HasPrefix(u.ID, "u_") {
		t.Errorf("unexpected id prefix: %s", u.ID)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreateUser("dup@test.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateUser("dup@test.com"); err == nil {
		t.Fatal("expected error for duplicate email")
	}
}

func TestGetUserByEmailCaseInsensitive(t *testing.T) {
	db := newTestDB(t)
	db.CreateUser("find@test.com")
	found, err := db.GetUserByEmail("FIND@test.com")
	if err != nil {
		t.Fatal(err)
	}
	if found == nil {
		t.Fatal("user not found by email")
	}
}

// --- API key tests ---

func TestGenerateAndVerifyAPIKey(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("key@test.com")

	plaintext, ak, err := db.GenerateAPIKey(u.ID, "laptop", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(plaintext, "wander_live_") {
		t.Errorf("key prefix: %s", plaintext)
	}
	if ak.KeyPrefix != plaintext[len("wander_live_"):len("wander_live_")+8] {
		t.Errorf("stored prefix %s does not match key", ak.KeyPrefix)
	}

	gotKey, gotUser, err := db.VerifyAPIKey(plaintext)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if gotKey == nil || gotUser == nil {
		t.Fatal("valid key rejected")
	}
	if gotUser.ID != u.ID {
		t.Errorf("user = %s, want %s", gotUser.ID, u.ID)
	}
	if gotKey.LastUsedAt == nil {
		t.Error("last_used_at not stamped")
	}
}

func TestVerifyAPIKeyUnknown(t *testing.T) {
	db := newTestDB(t)
	ak, u, err := db.VerifyAPIKey("wander_live_bogus")
	if err != nil {
		t.Fatal(err)
	}
	if ak != nil || u != nil {
		t.Fatal("unknown key accepted")
	}
}

func TestVerifyAPIKeyExpired(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("expired@test.com")
	past := time.Now().UTC().Add(-time.Hour)
	plaintext, _, err := db.GenerateAPIKey(u.ID, "old", &past)
	if err != nil {
		t.Fatal(err)
	}
	ak, _, err := db.VerifyAPIKey(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if ak != nil {
		t.Fatal("expired key accepted")
	}
}

func TestRevokeAPIKey(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("revoke@test.com")
	plaintext, ak, _ := db.GenerateAPIKey(u.ID, "", nil)

	other, _ := db.CreateUser("other@test.com")
	if err := db.RevokeAPIKey(ak.ID, other.ID); err == nil {
		t.Fatal("revoked someone else's key")
	}
	if err := db.RevokeAPIKey(ak.ID, u.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if got, _, _ := db.VerifyAPIKey(plaintext); got != nil {
		t.Fatal("revoked key still verifies")
	}
}

// --- Device auth tests ---

func TestDeviceAuthFlow(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("device@test.com")

	ar, err := db.CreateAuthRequest("device@test.com")
	if err != nil {
		t.Fatalf("create auth request: %v", err)
	}
	if len(ar.UserCode) != 6 {
		t.Errorf("user code = %q", ar.UserCode)
	}

	// Polling before verification completes nothing.
	done, err := db.CompleteAuthRequest(ar.DeviceCode)
	if err != nil {
		t.Fatal(err)
	}
	if done != nil {
		t.Fatal("completed unverified request")
	}

	if err := db.VerifyAuthRequest(ar.UserCode, u.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}
	done, err = db.CompleteAuthRequest(ar.DeviceCode)
	if err != nil {
		t.Fatal(err)
	}
	if done == nil || done.UserID == nil || *done.UserID != u.ID {
		t.Fatalf("completed request = %+v", done)
	}

	// A device code is single use.
	again, err := db.CompleteAuthRequest(ar.DeviceCode)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Fatal("device code exchanged twice")
	}
}

func TestVerifyAuthRequestUnknownCode(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("x@test.com")
	if err := db.VerifyAuthRequest("NOPE99", u.ID); err == nil {
		t.Fatal("verified unknown user code")
	}
}

// --- Record store tests ---

func testRecord(entity, id, owner string, updatedNs int64, payload any) *Record {
	b, _ := json.Marshal(payload)
	return &Record{
		EntityType:  entity,
		ID:          id,
		OwnerID:     owner,
		Payload:     b,
		CreatedAtNs: updatedNs,
		UpdatedAtNs: updatedNs,
	}
}

func TestUpsertRecordLastWriteWins(t *testing.T) {
	db := newTestDB(t)

	applied, err := db.UpsertRecord(testRecord("places", "pl-1", "u_1", 100, map[string]string{"name": "v1"}))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !applied {
		t.Fatal("first write not applied")
	}

	// Older write loses.
	applied, err = db.UpsertRecord(testRecord("places", "pl-1", "u_1", 50, map[string]string{"name": "stale"}))
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Fatal("stale write applied")
	}

	// Equal timestamp loses too (first write wins ties).
	applied, _ = db.UpsertRecord(testRecord("places", "pl-1", "u_1", 100, map[string]string{"name": "tie"}))
	if applied {
		t.Fatal("tie write applied")
	}

	// Newer write wins.
	applied, err = db.UpsertRecord(testRecord("places", "pl-1", "u_1", 200, map[string]string{"name": "v2"}))
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("newer write dropped")
	}

	rec, _ := db.GetRecord("places", "pl-1")
	var body map[string]string
	json.Unmarshal(rec.Payload, &body)
	if body["name"] != "v2" {
		t.Fatalf("stored payload = %v", body)
	}
}

func TestDeleteRecordSoftDelete(t *testing.T) {
	db := newTestDB(t)
	db.UpsertRecord(testRecord("places", "pl-del", "u_1", 100, map[string]string{"name": "x"}))

	if err := db.DeleteRecord("places", "pl-del", "u_1", "dev1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	rec, _ := db.GetRecord("places", "pl-del")
	if rec == nil || !rec.Deleted() {
		t.Fatal("record not marked deleted")
	}
	if rec.Payload != nil {
		t.Fatal("deleted record kept its payload")
	}

	// Second delete and unknown delete report not found.
	if err := db.DeleteRecord("places", "pl-del", "u_1", "dev1"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
	if err := db.DeleteRecord("places", "pl-ghost", "u_1", "dev1"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("ghost delete err = %v", err)
	}
}

func TestDeleteRecordOwnerOnly(t *testing.T) {
	db := newTestDB(t)
	db.UpsertRecord(testRecord("places", "pl-owned", "u_1", 100, map[string]string{}))
	if err := db.DeleteRecord("places", "pl-owned", "u_2", "dev"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("non-owner delete err = %v", err)
	}
}

func TestChangedSincePagingAndDeletes(t *testing.T) {
	db := newTestDB(t)
	for i := int64(1); i <= 5; i++ {
		db.UpsertRecord(testRecord("places", "pl-"+strings.Repeat("x", int(i)), "u_1", i*10, map[string]string{}))
	}
	db.DeleteRecord("places", "pl-x", "u_1", "dev")

	recs, hasMore, err := db.ChangedSince("u_1", "places", 0, 3)
	if err != nil {
		t.Fatalf("changed since: %v", err)
	}
	if len(recs) != 3 || !hasMore {
		t.Fatalf("page = %d records hasMore=%v", len(recs), hasMore)
	}
	// Ascending order.
	for i := 1; i < len(recs); i++ {
		if recs[i].UpdatedAtNs < recs[i-1].UpdatedAtNs {
			t.Fatal("records not in ascending updated order")
		}
	}

	// Second page from the last seen boundary includes the deletion marker
	// (its delete bumped updated_at past everything else).
	recs2, hasMore, err := db.ChangedSince("u_1", "places", recs[len(recs)-1].UpdatedAtNs, 10)
	if err != nil {
		t.Fatal(err)
	}
	if hasMore {
		t.Fatal("unexpected extra page")
	}
	foundDeleted := false
	for _, r := range recs2 {
		if r.ID == "pl-x" && r.Deleted() {
			foundDeleted = true
		}
	}
	if !foundDeleted {
		t.Fatal("deletion marker missing from delta")
	}
}

func TestChangedSinceSharingVisibility(t *testing.T) {
	db := newTestDB(t)

	// Owner u_1 shares a trip with u_2. The trip, its log, and the place the
	// log references become visible to u_2; an unrelated place does not.
	trip := testRecord("trips", "tr-1", "u_1", 100, map[string]any{
		"name":          "Tokyo",
		"collaborators": []string{"u_2"},
	})
	if _, err := db.UpsertRecord(trip); err != nil {
		t.Fatal(err)
	}
	logRec := testRecord("logs", "lg-1", "u_1", 110, map[string]any{
		"trip_id":  "tr-1",
		"place_id": "pl-shared",
	})
	if _, err := db.UpsertRecord(logRec); err != nil {
		t.Fatal(err)
	}
	db.UpsertRecord(testRecord("places", "pl-shared", "u_1", 120, map[string]string{"name": "Jiro"}))
	db.UpsertRecord(testRecord("places", "pl-private", "u_1", 130, map[string]string{"name": "Home"}))

	trips, _, err := db.ChangedSince("u_2", "trips", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trips) != 1 || trips[0].ID != "tr-1" {
		t.Fatalf("collaborator trips = %+v", trips)
	}

	logs, _, err := db.ChangedSince("u_2", "logs", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].ID != "lg-1" {
		t.Fatalf("collaborator logs = %+v", logs)
	}

	places, _, err := db.ChangedSince("u_2", "places", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(places) != 1 || places[0].ID != "pl-shared" {
		t.Fatalf("collaborator places = %+v", places)
	}

	// Unsharing removes visibility.
	trip2 := testRecord("trips", "tr-1", "u_1", 200, map[string]any{
		"name":          "Tokyo",
		"collaborators": []string{},
	})
	if _, err := db.UpsertRecord(trip2); err != nil {
		t.Fatal(err)
	}
	trips, _, _ = db.ChangedSince("u_2", "trips", 0, 10)
	if len(trips) != 0 {
		t.Fatal("unshared trip still visible")
	}
}

func TestCanAccess(t *testing.T) {
	db := newTestDB(t)
	db.UpsertRecord(testRecord("trips", "tr-acl", "u_1", 100, map[string]any{
		"collaborators": []string{"u_2"},
	}))

	cases := []struct {
		user, entity, id string
		want             bool
	}{
		{"u_1", "trips", "tr-acl", true},
		{"u_2", "trips", "tr-acl", true},
		{"u_3", "trips", "tr-acl", false},
		{"u_3", "trips", "tr-new", true}, // first write claims the id
	}
	for _, c := range cases {
		got, err := db.CanAccess(c.user, c.entity, c.id)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("CanAccess(%s, %s) = %v, want %v", c.user, c.id, got, c.want)
		}
	}
}

func TestAttachmentRoundTrip(t *testing.T) {
	db := newTestDB(t)
	a := &Attachment{BlobID: "bl-1", OwnerID: "u_1", URL: "/v1/attachments/bl-1", Size: 1024}
	if err := db.InsertAttachment(a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := db.GetAttachment("bl-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Size != 1024 || got.OwnerID != "u_1" {
		t.Fatalf("attachment = %+v", got)
	}
	if missing, _ := db.GetAttachment("bl-none"); missing != nil {
		t.Fatal("phantom attachment")
	}
}
