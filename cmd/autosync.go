package cmd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/syncconfig"
)

// AutoSyncEnabled returns true if auto-sync after mutations is enabled.
// WANDER_AUTO_SYNC overrides the config. Defaults to true when authenticated.
func AutoSyncEnabled() bool {
	if v := os.Getenv("WANDER_AUTO_SYNC"); v != "" {
		return v == "1" || v == "true"
	}
	return syncconfig.GetAutoSyncEnabled()
}

// autoSyncAfterMutation runs a quick push after a mutating command completes.
// Runs synchronously but with a short timeout. Errors are logged, not
// returned; the edit is already durable locally and the watch daemon or the
// next explicit sync will carry it.
func autoSyncAfterMutation() {
	if !AutoSyncEnabled() {
		return
	}
	if !syncconfig.IsAuthenticated() {
		return
	}

	database, err := db.Open(getBaseDir())
	if err != nil {
		slog.Debug("autosync: open db", "err", err)
		return
	}
	defer database.Close()

	engine, uploader, err := buildSyncStack(database)
	if err != nil {
		slog.Debug("autosync: build stack", "err", err)
		return
	}
	engine.CallTimeout = 5 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Push only; pull happens on the next explicit sync or watch cycle.
	report, err := engine.PushPending(ctx, currentOwner())
	if err != nil {
		slog.Debug("autosync: push", "err", err)
		return
	}
	if report.Pushed+report.Deleted > 0 {
		slog.Debug("autosync: pushed", "records", report.Pushed, "deletes", report.Deleted)
	}

	if _, err := uploader.ProcessDue(ctx); err != nil {
		slog.Debug("autosync: uploads", "err", err)
	}
}
