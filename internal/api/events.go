package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// changeEvent is one entry on the realtime change stream.
type changeEvent struct {
	EntityType string `json:"entity_type"`
	ID         string `json:"id"`
	DeviceID   string `json:"device_id,omitempty"`
}

// subscriber is one open SSE connection. Events are dropped rather than
// queued when the client falls behind; a dropped hint only costs the client
// one poll interval of latency.
type subscriber struct {
	userID   string
	deviceID string
	ch       chan changeEvent
}

// changeHub fans change notifications out to subscribed devices. A write is
// announced to every subscriber of a user who can see the record, except the
// device that made the write (it already has the data).
type changeHub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newChangeHub() *changeHub {
	return &changeHub{subs: make(map[*subscriber]struct{})}
}

func (h *changeHub) subscribe(userID, deviceID string) *subscriber {
	sub := &subscriber{
		userID:   userID,
		deviceID: deviceID,
		ch:       make(chan changeEvent, 32),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *changeHub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// broadcast announces a change to subscribers of the listed users, skipping
// the originating device.
func (h *changeHub) broadcast(ev changeEvent, userIDs []string) {
	want := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !want[sub.userID] {
			continue
		}
		if ev.DeviceID != "" && sub.deviceID == ev.DeviceID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// handleChangeStream handles GET /v1/changes/stream as a server-sent event
// stream. One "data:" line per change, with periodic comment heartbeats to
// keep intermediaries from closing the connection.
func (s *Server) handleChangeStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "streaming unsupported")
		return
	}

	user := getUserFromContext(r.Context())
	sub := s.hub.subscribe(user.UserID, user.DeviceID)
	defer s.hub.unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-sub.ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// notifyChange publishes a change to everyone who can see the record: the
// owner plus collaborators of the containing trip (or of the trip itself).
func (s *Server) notifyChange(entityType, id, ownerID, deviceID string) {
	userIDs := []string{ownerID}
	if ids, err := s.store.AudienceFor(entityType, id); err == nil {
		userIDs = append(userIDs, ids...)
	}
	s.hub.broadcast(changeEvent{EntityType: entityType, ID: id, DeviceID: deviceID}, userIDs)
}
