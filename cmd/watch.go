package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/netwatch"
	"github.com/marcus/wander/internal/output"
	wandersync "github.com/marcus/wander/internal/sync"
	"github.com/marcus/wander/internal/syncclient"
	"github.com/marcus/wander/internal/syncconfig"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the background sync daemon",
	Long: `Keeps the local store in sync: pushes queued edits, pulls remote changes,
retries attachment uploads, and reacts to connectivity changes and realtime
change notifications from the server. Runs until interrupted.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !syncconfig.IsAuthenticated() {
			output.Error("not logged in (run: wander auth login)")
			return fmt.Errorf("not authenticated")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("open database: %v", err)
			return err
		}
		defer database.Close()

		engine, uploader, err := buildSyncStack(database)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		owner := currentOwner()
		scheduler := wandersync.NewScheduler(engine, uploader, owner)
		scheduler.Debounce = syncconfig.GetAutoSyncDebounce()
		scheduler.OnCycle(func(r wandersync.CycleReport) {
			if r.Err != nil {
				slog.Warn("sync cycle", "err", r.Err)
				return
			}
			slog.Info("sync cycle",
				"pushed", r.Push.Pushed, "deleted", r.Push.Deleted,
				"pulled", r.Pull.Applied, "uploads", r.Uploads.Uploaded)
		})

		deviceID, err := syncconfig.GetDeviceID()
		if err != nil {
			return err
		}
		client := syncclient.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey(), deviceID)

		// Connectivity probe drives online/offline transitions; a reconnect
		// edge triggers an immediate catch-up cycle inside the scheduler.
		watcher := netwatch.New(netwatch.HTTPProbe(syncconfig.GetServerURL() + "/healthz"))
		watcher.OnChange(func(online bool) {
			slog.Info("connectivity", "online", online)
			scheduler.SetOnline(online)
		})
		go watcher.Run(ctx)
		scheduler.SetOnline(watcher.Check(ctx))

		go scheduler.Run(ctx)
		go subscribeLoop(ctx, client, scheduler)

		if syncconfig.GetAutoSyncOnStart() {
			scheduler.ForceSyncNow()
		}

		// Periodic safety-net cycle in case a notification was missed.
		interval := syncconfig.GetAutoSyncInterval()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		fmt.Printf("Watching for changes (interval %s). Ctrl-C to stop.\n", interval)
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nStopped.")
				return nil
			case <-ticker.C:
				scheduler.ForceSyncNow()
			}
		}
	},
}

// subscribeLoop holds a change-stream subscription open, reconnecting with
// backoff when the stream drops. Each notification kicks the scheduler.
func subscribeLoop(ctx context.Context, client *syncclient.Client, scheduler *wandersync.Scheduler) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		events, err := client.Subscribe(ctx)
		if err != nil {
			slog.Debug("change stream connect", "err", err)
		} else {
			backoff = time.Second
			for range events {
				scheduler.NotifyRemoteChange()
			}
			slog.Debug("change stream closed, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < time.Minute {
			backoff *= 2
		}
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
