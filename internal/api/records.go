package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/marcus/wander/internal/serverdb"
)

// validEntities are the record kinds that flow through sync.
var validEntities = map[string]bool{
	"places":      true,
	"trips":       true,
	"logs":        true,
	"saved_lists": true,
}

// wireRecord is the JSON shape of a record on the wire. Timestamps travel as
// RFC3339Nano strings; the store keeps integer nanoseconds.
type wireRecord struct {
	EntityType string          `json:"entity_type"`
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
	Deleted    bool            `json:"deleted,omitempty"`
}

// changesResponse is the JSON response for GET /v1/records/{entity}/changes.
type changesResponse struct {
	Records []wireRecord `json:"records"`
	HasMore bool         `json:"has_more"`
}

func toWire(rec *serverdb.Record) wireRecord {
	return wireRecord{
		EntityType: rec.EntityType,
		ID:         rec.ID,
		OwnerID:    rec.OwnerID,
		Payload:    rec.Payload,
		CreatedAt:  time.Unix(0, rec.CreatedAtNs).UTC().Format(time.RFC3339Nano),
		UpdatedAt:  time.Unix(0, rec.UpdatedAtNs).UTC().Format(time.RFC3339Nano),
		Deleted:    rec.Deleted(),
	}
}

// handleUpsertRecord handles PUT /v1/records/{entity}/{id}. Create and
// update share this endpoint so retried pushes stay idempotent. The write is
// applied under last-write-wins; a stale write returns applied=false.
func (s *Server) handleUpsertRecord(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	id := r.PathValue("id")
	if !validEntities[entity] {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "unknown entity type: "+entity)
		return
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "missing record id")
		return
	}

	var body wireRecord
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if len(body.Payload) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "payload is required")
		return
	}
	if !json.Valid(body.Payload) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "payload is not valid json")
		return
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, body.UpdatedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid updated_at timestamp")
		return
	}
	createdAt := updatedAt
	if body.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, body.CreatedAt); err == nil {
			createdAt = t
		}
	}

	user := getUserFromContext(r.Context())
	ok, err := s.store.CanAccess(user.UserID, entity, id)
	if err != nil {
		logFor(r.Context()).Error("check record access", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to check access")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "record belongs to another user")
		return
	}

	// Owner and creation time are pinned by the first write; a collaborator
	// updating a shared record never takes it over.
	ownerID := user.UserID
	existing, err := s.store.GetRecord(entity, id)
	if err != nil {
		logFor(r.Context()).Error("load record", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to load record")
		return
	}
	if existing != nil {
		ownerID = existing.OwnerID
		createdAt = time.Unix(0, existing.CreatedAtNs).UTC()
	}

	applied, err := s.store.UpsertRecord(&serverdb.Record{
		EntityType:      entity,
		ID:              id,
		OwnerID:         ownerID,
		Payload:         body.Payload,
		CreatedAtNs:     createdAt.UnixNano(),
		UpdatedAtNs:     updatedAt.UnixNano(),
		UpdatedByDevice: user.DeviceID,
	})
	if err != nil {
		logFor(r.Context()).Error("upsert record", "entity", entity, "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to store record")
		return
	}

	if applied {
		s.metrics.RecordApplied()
		s.notifyChange(entity, id, ownerID, user.DeviceID)
	} else {
		s.metrics.RecordStale()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

// handleDeleteRecord handles DELETE /v1/records/{entity}/{id}. Deletes are
// soft: the record becomes a deletion marker that other devices pull.
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	id := r.PathValue("id")
	if !validEntities[entity] {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "unknown entity type: "+entity)
		return
	}

	user := getUserFromContext(r.Context())
	err := s.store.DeleteRecord(entity, id, user.UserID, user.DeviceID)
	if errors.Is(err, serverdb.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "record not found")
		return
	}
	if err != nil {
		logFor(r.Context()).Error("delete record", "entity", entity, "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to delete record")
		return
	}

	s.metrics.RecordApplied()
	s.notifyChange(entity, id, user.UserID, user.DeviceID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleChanges handles GET /v1/records/{entity}/changes. Returns visible
// records updated strictly after the since watermark, oldest first,
// including deletion markers.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	if !validEntities[entity] {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "unknown entity type: "+entity)
		return
	}

	var sinceNs int64
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid since timestamp")
			return
		}
		sinceNs = t.UnixNano()
	}

	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid limit")
			return
		}
		if n > 1000 {
			n = 1000
		}
		limit = n
	}

	user := getUserFromContext(r.Context())
	recs, hasMore, err := s.store.ChangedSince(user.UserID, entity, sinceNs, limit)
	if err != nil {
		logFor(r.Context()).Error("changed since", "entity", entity, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to query changes")
		return
	}

	s.metrics.RecordChangeQuery()
	out := changesResponse{Records: make([]wireRecord, 0, len(recs)), HasMore: hasMore}
	for _, rec := range recs {
		out.Records = append(out.Records, toWire(rec))
	}
	writeJSON(w, http.StatusOK, out)
}
