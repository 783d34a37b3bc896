package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PullRemoteChanges fetches remote changes since each entity type's watermark
// and merges them under last-write-wins. Records with an in-flight local edit
// are never overwritten; their snapshots are discarded this pass and
// re-fetched once the outbound push has resolved the conflict window. The
// watermark advances only through the prefix of successfully merged records,
// so a skip or failure mid-batch leaves everything after it to be re-pulled.
func (e *Engine) PullRemoteChanges(ctx context.Context, ownerID string) (PullReport, error) {
	var report PullReport

	for _, a := range adapters {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := e.pullEntity(ctx, ownerID, a, &report); err != nil {
			return report, err
		}
	}

	slog.Debug("pull pass complete", "owner", ownerID,
		"applied", report.Applied, "skipped", report.Skipped,
		"failed", report.Failed, "deleted", report.Deleted)
	return report, nil
}

func (e *Engine) pullEntity(ctx context.Context, ownerID string, a adapter, report *PullReport) error {
	watermark, err := e.store.GetWatermark(ownerID, a.entity)
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		callCtx, cancel := e.callCtx(ctx)
		resp, err := e.remote.ChangedSince(callCtx, string(a.entity), watermark, e.PullLimit)
		cancel()
		if err != nil {
			return fmt.Errorf("changed-since %s: %w", a.entity, err)
		}

		mark := watermark
		advance := true // stops at the first skip or failure

		for i := range resp.Records {
			rec := &resp.Records[i]

			outcome, err := a.merge(e.store, rec)
			if err != nil {
				report.Failed++
				advance = false
				slog.Warn("merge failed", "entity", a.entity, "id", rec.ID, "err", err)
				continue
			}

			switch outcome {
			case mergeApplied:
				report.Applied++
			case mergeDeleted:
				report.Deleted++
			case mergeDeletedNoop, mergeSkippedStale:
				// Benign: nothing to do locally, safe to advance past.
			case mergeSkippedInFlight:
				report.Skipped++
				advance = false
			}

			if advance {
				if t, perr := time.Parse(time.RFC3339Nano, rec.UpdatedAt); perr == nil {
					mark = t
				} else {
					advance = false
				}
			}
		}

		if mark.After(watermark) {
			if err := e.store.SetWatermark(ownerID, a.entity, mark); err != nil {
				return err
			}
			watermark = mark
		}

		// Stop paging when the batch is exhausted or when a skip pinned the
		// watermark: re-querying from the same boundary now would loop.
		if !resp.HasMore || !advance {
			return nil
		}
	}
}
