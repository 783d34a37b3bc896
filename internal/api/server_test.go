package api

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/marcus/wander/internal/syncclient"
)

func TestHealthz(t *testing.T) {
	h := newTestHarness(t)

	var out map[string]string
	h.DoJSON("GET", "/healthz", "", nil, &out)
	if out["status"] != "ok" {
		t.Fatalf("status = %q, want ok", out["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	h := newTestHarness(t)

	resp := h.Do("PUT", "/v1/records/places/pl-1", "", map[string]string{})
	AssertErrorResponse(t, resp, http.StatusUnauthorized, ErrCodeUnauthorized)

	resp = h.Do("GET", "/v1/records/places/changes", "garbage-token", nil)
	AssertErrorResponse(t, resp, http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestDeviceAuthEndToEnd(t *testing.T) {
	h := newTestHarness(t)

	var start loginStartResponse
	h.DoJSON("POST", "/v1/auth/login/start", "", loginStartRequest{Email: "new@example.com"}, &start)
	if start.DeviceCode == "" || len(start.UserCode) != 6 {
		t.Fatalf("start response = %+v", start)
	}

	// Unverified: polling reports pending.
	var poll loginPollResponse
	h.DoJSON("POST", "/v1/auth/login/poll", "", loginPollRequest{DeviceCode: start.DeviceCode}, &poll)
	if poll.Status != "pending" {
		t.Fatalf("status = %q, want pending", poll.Status)
	}

	// The user enters the code in the browser; signup is allowed, so the
	// account is created on the fly.
	form := url.Values{"user_code": {strings.ToLower(start.UserCode)}}
	resp, err := h.client.Post(h.BaseURL+"/auth/verify", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("post verify form: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify form status = %d", resp.StatusCode)
	}

	// Polling now completes and hands out an API key.
	h.DoJSON("POST", "/v1/auth/login/poll", "", loginPollRequest{DeviceCode: start.DeviceCode}, &poll)
	if poll.Status != "complete" || poll.APIKey == nil {
		t.Fatalf("poll after verify = %+v", poll)
	}

	// The key authenticates real requests.
	h.PutRecord(*poll.APIKey, "places", "pl-auth", time.Now(), map[string]string{"name": "Cafe"})

	// The device code is single use.
	resp = h.Do("POST", "/v1/auth/login/poll", "", loginPollRequest{DeviceCode: start.DeviceCode})
	AssertErrorResponse(t, resp, http.StatusGone, ErrCodeAlreadyUsed)
}

func TestLoginStartRejectsBadEmail(t *testing.T) {
	h := newTestHarness(t)
	resp := h.Do("POST", "/v1/auth/login/start", "", loginStartRequest{Email: "not-an-email"})
	AssertErrorResponse(t, resp, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestLoginStartSignupDisabled(t *testing.T) {
	h := newTestHarness(t, func(cfg *Config) { cfg.AllowSignup = false })
	resp := h.Do("POST", "/v1/auth/login/start", "", loginStartRequest{Email: "stranger@example.com"})
	AssertErrorResponse(t, resp, http.StatusForbidden, ErrCodeSignupDisabled)
}

func TestUpsertAndChanges(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("sync@example.com")

	base := time.Now().Add(-time.Minute)
	if applied := h.PutRecord(token, "places", "pl-1", base, map[string]string{"name": "v1"}); !applied {
		t.Fatal("first write not applied")
	}

	// Stale write is dropped, not errored.
	if applied := h.PutRecord(token, "places", "pl-1", base.Add(-time.Second), map[string]string{"name": "stale"}); applied {
		t.Fatal("stale write applied")
	}

	if applied := h.PutRecord(token, "places", "pl-1", base.Add(time.Second), map[string]string{"name": "v2"}); !applied {
		t.Fatal("newer write dropped")
	}

	out := h.Changes(token, "places", "")
	if len(out.Records) != 1 || out.HasMore {
		t.Fatalf("changes = %+v", out)
	}
	rec := out.Records[0]
	if !strings.Contains(string(rec.Payload), "v2") {
		t.Fatalf("payload = %s", rec.Payload)
	}

	// A since watermark at the record's timestamp excludes it (strictly after).
	out = h.Changes(token, "places", url.QueryEscape(rec.UpdatedAt))
	if len(out.Records) != 0 {
		t.Fatalf("expected empty delta, got %d records", len(out.Records))
	}
}

func TestUpsertValidation(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("val@example.com")

	resp := h.Do("PUT", "/v1/records/widgets/w-1", token, wireRecord{UpdatedAt: time.Now().Format(time.RFC3339Nano)})
	AssertErrorResponse(t, resp, http.StatusBadRequest, ErrCodeBadRequest)

	resp = h.Do("PUT", "/v1/records/places/pl-1", token, wireRecord{Payload: []byte(`{}`), UpdatedAt: "yesterday"})
	AssertErrorResponse(t, resp, http.StatusBadRequest, ErrCodeBadRequest)

	resp = h.Do("PUT", "/v1/records/places/pl-1", token, wireRecord{UpdatedAt: time.Now().Format(time.RFC3339Nano)})
	AssertErrorResponse(t, resp, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestWriteToForeignRecordForbidden(t *testing.T) {
	h := newTestHarness(t)
	_, tokenA := h.CreateUser("owner@example.com")
	_, tokenB := h.CreateUser("intruder@example.com")

	h.PutRecord(tokenA, "places", "pl-owned", time.Now(), map[string]string{"name": "mine"})

	body := wireRecord{Payload: []byte(`{"name":"stolen"}`), UpdatedAt: time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano)}
	resp := h.Do("PUT", "/v1/records/places/pl-owned", tokenB, body)
	AssertErrorResponse(t, resp, http.StatusForbidden, ErrCodeForbidden)
}

func TestDeleteRecordFlow(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("del@example.com")
	_, other := h.CreateUser("other@example.com")

	h.PutRecord(token, "places", "pl-del", time.Now().Add(-time.Minute), map[string]string{"name": "x"})

	// Someone else cannot delete it.
	resp := h.Do("DELETE", "/v1/records/places/pl-del", other, nil)
	AssertErrorResponse(t, resp, http.StatusNotFound, ErrCodeNotFound)

	resp = h.Do("DELETE", "/v1/records/places/pl-del", token, nil)
	AssertStatus(t, resp, http.StatusOK)

	// The deletion marker flows through the change feed.
	out := h.Changes(token, "places", "")
	if len(out.Records) != 1 || !out.Records[0].Deleted {
		t.Fatalf("changes after delete = %+v", out)
	}

	// Deleting again reports not found (idempotent for the client).
	resp = h.Do("DELETE", "/v1/records/places/pl-del", token, nil)
	AssertErrorResponse(t, resp, http.StatusNotFound, ErrCodeNotFound)
}

func TestSharedTripVisibility(t *testing.T) {
	h := newTestHarness(t)
	_, tokenA := h.CreateUser("a@example.com")
	idB, tokenB := h.CreateUser("b@example.com")

	now := time.Now().Add(-time.Minute)
	h.PutRecord(tokenA, "trips", "tr-1", now, map[string]any{
		"name":          "Kyoto",
		"collaborators": []string{idB},
	})
	h.PutRecord(tokenA, "logs", "lg-1", now.Add(time.Second), map[string]any{
		"trip_id":  "tr-1",
		"place_id": "pl-ramen",
	})
	h.PutRecord(tokenA, "places", "pl-ramen", now.Add(2*time.Second), map[string]string{"name": "Ramen"})
	h.PutRecord(tokenA, "places", "pl-secret", now.Add(3*time.Second), map[string]string{"name": "Secret"})

	if out := h.Changes(tokenB, "trips", ""); len(out.Records) != 1 {
		t.Fatalf("collaborator trips = %+v", out)
	}
	if out := h.Changes(tokenB, "logs", ""); len(out.Records) != 1 {
		t.Fatalf("collaborator logs = %+v", out)
	}
	out := h.Changes(tokenB, "places", "")
	if len(out.Records) != 1 || out.Records[0].ID != "pl-ramen" {
		t.Fatalf("collaborator places = %+v", out)
	}

	// Collaborators can update shared records without taking ownership.
	if applied := h.PutRecord(tokenB, "logs", "lg-1", now.Add(time.Minute), map[string]any{
		"trip_id": "tr-1", "place_id": "pl-ramen", "note": "amended",
	}); !applied {
		t.Fatal("collaborator write dropped")
	}
	got, err := h.Store.GetRecord("logs", "lg-1")
	if err != nil || got == nil {
		t.Fatalf("get record: %v", err)
	}
	if got.OwnerID == idB {
		t.Fatal("collaborator write took over ownership")
	}
}

func TestAttachmentUploadAndFetch(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("blob@example.com")

	blob := bytes.Repeat([]byte("wander"), 1000)
	req, _ := http.NewRequest("POST", h.BaseURL+"/v1/attachments", bytes.NewReader(blob))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Blob-ID", "bl-test-1")
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	out := ReadJSON[uploadResponse](t, resp)
	if out.BlobID != "bl-test-1" || out.Size != int64(len(blob)) || out.URL == "" {
		t.Fatalf("upload response = %+v", out)
	}

	fetched := h.Do("GET", "/v1/attachments/bl-test-1", token, nil)
	AssertStatus(t, fetched, http.StatusOK)

	// Missing blob id header is rejected.
	req, _ = http.NewRequest("POST", h.BaseURL+"/v1/attachments", bytes.NewReader(blob))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = h.client.Do(req)
	if err != nil {
		t.Fatalf("upload without id: %v", err)
	}
	AssertErrorResponse(t, resp, http.StatusBadRequest, ErrCodeBadRequest)

	// Unknown blob is a 404.
	missing := h.Do("GET", "/v1/attachments/bl-nope", token, nil)
	AssertErrorResponse(t, missing, http.StatusNotFound, ErrCodeNotFound)
}

func TestRateLimitExceeded(t *testing.T) {
	h := newTestHarness(t, func(cfg *Config) { cfg.RateLimitWrite = 2 })
	_, token := h.CreateUser("limited@example.com")

	h.PutRecord(token, "places", "pl-1", time.Now(), map[string]string{"name": "a"})
	h.PutRecord(token, "places", "pl-2", time.Now(), map[string]string{"name": "b"})

	body := wireRecord{Payload: []byte(`{}`), UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano)}
	resp := h.Do("PUT", "/v1/records/places/pl-3", token, body)
	AssertErrorResponse(t, resp, http.StatusTooManyRequests, ErrCodeRateLimited)
}

func TestChangeStreamNotifiesOtherDevices(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("stream@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listener := syncclient.New(h.BaseURL, token, "dev-listener")
	events, err := listener.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// A write from another device of the same user shows up on the stream.
	h.PutRecordAsDevice(token, "dev-writer", "places", "pl-live", time.Now(), map[string]string{"name": "Live"})

	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("stream closed before event")
		}
		if ev.EntityType != "places" || ev.ID != "pl-live" {
			t.Fatalf("event = %+v", ev)
		}
		if ev.DeviceID != "dev-writer" {
			t.Fatalf("event device = %q, want dev-writer", ev.DeviceID)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for change event")
	}
}

func TestChangeStreamSkipsOriginatingDevice(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("self@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	self := syncclient.New(h.BaseURL, token, "dev-same")
	events, err := self.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	h.PutRecordAsDevice(token, "dev-same", "places", "pl-echo", time.Now(), map[string]string{"name": "Echo"})

	select {
	case ev, ok := <-events:
		if ok {
			t.Fatalf("got echo of own write: %+v", ev)
		}
	case <-time.After(500 * time.Millisecond):
		// no echo, as expected
	}
}
