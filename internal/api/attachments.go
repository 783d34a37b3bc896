package api

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/marcus/wander/internal/serverdb"
)

// uploadResponse is the JSON response for POST /v1/attachments.
type uploadResponse struct {
	BlobID string `json:"blob_id"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
}

// validBlobID keeps blob ids usable as file names. IDs are client-generated,
// so anything outside a conservative charset is rejected.
func validBlobID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// handleUploadAttachment handles POST /v1/attachments. The body is the raw
// blob; the id comes from the X-Blob-ID header. Re-uploading the same blob id
// overwrites in place, which makes retried uploads idempotent.
func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	blobID := r.Header.Get("X-Blob-ID")
	if !validBlobID(blobID) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "missing or invalid X-Blob-ID header")
		return
	}

	if err := os.MkdirAll(s.config.BlobDir, 0o755); err != nil {
		logFor(r.Context()).Error("create blob dir", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to store blob")
		return
	}

	// Write to a temp file first so a dropped connection never leaves a
	// truncated blob behind the durable name.
	tmp, err := os.CreateTemp(s.config.BlobDir, blobID+".tmp-*")
	if err != nil {
		logFor(r.Context()).Error("create blob temp file", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to store blob")
		return
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(r.Body, s.config.MaxBlobSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		logFor(r.Context()).Error("write blob", "blob_id", blobID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to store blob")
		return
	}
	if size == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "empty upload body")
		return
	}
	if size > s.config.MaxBlobSize {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "blob exceeds size limit")
		return
	}

	dest := filepath.Join(s.config.BlobDir, blobID)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		logFor(r.Context()).Error("finalize blob", "blob_id", blobID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to store blob")
		return
	}

	user := getUserFromContext(r.Context())
	url := s.config.BaseURL + "/v1/attachments/" + blobID
	err = s.store.InsertAttachment(&serverdb.Attachment{
		BlobID:      blobID,
		OwnerID:     user.UserID,
		URL:         url,
		Size:        size,
		ContentHash: hex.EncodeToString(hasher.Sum(nil)),
	})
	if err != nil {
		logFor(r.Context()).Error("insert attachment", "blob_id", blobID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to record blob")
		return
	}

	s.metrics.RecordBlobStored()
	logFor(r.Context()).Info("blob stored", "blob_id", blobID, "size", size)
	writeJSON(w, http.StatusOK, uploadResponse{BlobID: blobID, URL: url, Size: size})
}

// handleGetAttachment handles GET /v1/attachments/{blobID}. Blob ids are
// long random strings, so possession of the id is the sharing grant; any
// authenticated user with the id may fetch the bytes.
func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	blobID := r.PathValue("blobID")
	if !validBlobID(blobID) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid blob id")
		return
	}

	a, err := s.store.GetAttachment(blobID)
	if err != nil {
		logFor(r.Context()).Error("get attachment", "blob_id", blobID, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to look up blob")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "attachment not found")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, filepath.Join(s.config.BlobDir, blobID))
}
