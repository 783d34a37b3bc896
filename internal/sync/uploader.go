package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/models"
)

// maxUploadAttempts bounds attachment retries. A blob that fails this many
// times is parked as dead and surfaced as a missing-attachment warning; the
// owning record keeps syncing without it.
const maxUploadAttempts = 8

// Uploader drains the attachment queue independently of record sync. Blob
// transfers run concurrently up to a fixed bound; a completed upload replaces
// the pending photo marker on the owning record with the remote URL and
// re-marks the record pending so the next push carries the resolved
// reference.
type Uploader struct {
	store     *db.DB
	transport AttachmentTransport

	// Concurrency bounds parallel transfers per pass.
	Concurrency int
	Backoff     Backoff

	// onResolved fires after an upload lands on its owning record; the
	// scheduler uses it to queue the follow-up push.
	onResolved func(logID string)

	// resolveMu serializes the post-transfer store writes: resolving a photo
	// is a read-modify-write on the owning log's attachment list, and two
	// blobs may land on the same log at once.
	resolveMu sync.Mutex
}

// NewUploader creates an uploader with the default concurrency and backoff.
func NewUploader(store *db.DB, transport AttachmentTransport) *Uploader {
	return &Uploader{
		store:       store,
		transport:   transport,
		Concurrency: 4,
		Backoff:     DefaultBackoff,
	}
}

// OnResolved registers the callback invoked after each successful upload.
func (u *Uploader) OnResolved(fn func(logID string)) {
	u.onResolved = fn
}

// Enqueue registers a local file as an attachment on a log entry. The blob
// is queued for upload and the log gets a pending photo marker immediately.
func (u *Uploader) Enqueue(blobID, logID, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("attachment %s: %w", path, err)
	}
	return u.store.EnqueueUpload(blobID, logID, path)
}

// ProcessDue runs one upload pass: every queued blob whose retry time has
// come is transferred, at most Concurrency at a time. Failures within a pass
// never abort it; each blob carries its own retry state.
func (u *Uploader) ProcessDue(ctx context.Context) (UploadReport, error) {
	due, err := u.store.DueUploads(time.Now())
	if err != nil {
		return UploadReport{}, err
	}
	if len(due) == 0 {
		return UploadReport{}, nil
	}

	var (
		mu     sync.Mutex
		report UploadReport
		wg     sync.WaitGroup
		sem    = make(chan struct{}, u.Concurrency)
	)

	for i := range due {
		if ctx.Err() != nil {
			break
		}
		up := due[i]

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			switch u.processOne(ctx, &up) {
			case uploadDone:
				mu.Lock()
				report.Uploaded++
				mu.Unlock()
			case uploadDeferred:
				mu.Lock()
				report.Deferred++
				mu.Unlock()
			case uploadDead:
				mu.Lock()
				report.Dead++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if report.Uploaded > 0 || report.Dead > 0 {
		slog.Debug("upload pass complete",
			"uploaded", report.Uploaded, "deferred", report.Deferred, "dead", report.Dead)
	}
	return report, ctx.Err()
}

type uploadResult int

const (
	uploadDone uploadResult = iota
	uploadDeferred
	uploadDead
)

func (u *Uploader) processOne(ctx context.Context, up *models.Upload) uploadResult {
	url, err := u.transfer(ctx, up)
	if err != nil {
		return u.deferOrKill(up, err)
	}

	u.resolveMu.Lock()
	defer u.resolveMu.Unlock()

	if err := u.store.MarkUploadDone(up.BlobID); err != nil {
		slog.Error("mark upload done", "blob", up.BlobID, "err", err)
		return uploadDeferred
	}
	// Swap the pending marker for the durable URL and re-mark the log
	// pending; the follow-up push carries the resolved reference.
	if err := u.store.ResolveAttachment(up.LogID, up.BlobID, url); err != nil {
		slog.Error("resolve attachment", "blob", up.BlobID, "log", up.LogID, "err", err)
		return uploadDeferred
	}
	if u.onResolved != nil {
		u.onResolved(up.LogID)
	}
	return uploadDone
}

func (u *Uploader) transfer(ctx context.Context, up *models.Upload) (string, error) {
	f, err := os.Open(up.Path)
	if err != nil {
		return "", fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()
	return u.transport.Upload(ctx, up.BlobID, io.Reader(f))
}

func (u *Uploader) deferOrKill(up *models.Upload, cause error) uploadResult {
	attempts := up.RetryCount + 1
	if attempts >= maxUploadAttempts {
		slog.Warn("attachment upload abandoned",
			"blob", up.BlobID, "log", up.LogID, "attempts", attempts, "err", cause)
		if err := u.store.MarkUploadDead(up.BlobID); err != nil {
			slog.Error("mark upload dead", "blob", up.BlobID, "err", err)
		}
		return uploadDead
	}

	next := time.Now().Add(u.Backoff.Next(attempts))
	slog.Warn("attachment upload deferred",
		"blob", up.BlobID, "attempt", attempts, "retry_at", next.Format(time.RFC3339), "err", cause)
	if err := u.store.DeferUpload(up.BlobID, attempts, next); err != nil {
		slog.Error("defer upload", "blob", up.BlobID, "err", err)
	}
	return uploadDeferred
}
