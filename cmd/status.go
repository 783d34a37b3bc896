package cmd

import (
	"fmt"
	"time"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/models"
	"github.com/marcus/wander/internal/output"
	"github.com/marcus/wander/internal/syncconfig"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show sync status: queue depth, failures, watermarks",
	GroupID: "query",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		owner := currentOwner()

		pending, err := database.CountPending(owner)
		if err != nil {
			output.Error("count pending: %v", err)
			return err
		}
		tombstones, err := database.CountTombstones(owner)
		if err != nil {
			output.Error("count tombstones: %v", err)
			return err
		}
		unsynced, err := database.ListUnsynced(owner)
		if err != nil {
			output.Error("list unsynced: %v", err)
			return err
		}
		dead, err := database.DeadUploads()
		if err != nil {
			output.Error("dead uploads: %v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(map[string]any{
				"authenticated":  syncconfig.IsAuthenticated(),
				"pending":        pending,
				"delete_intents": tombstones,
				"unsynced":       unsynced,
				"dead_uploads":   len(dead),
			})
		}

		if syncconfig.IsAuthenticated() {
			creds, _ := syncconfig.LoadAuth()
			fmt.Printf("SYNC: %s (%s)\n\n", creds.ServerURL, creds.Email)
		} else {
			fmt.Println("SYNC: not logged in (run 'wander auth login')")
			fmt.Println()
		}

		fmt.Printf("Pending changes: %d\n", pending)
		fmt.Printf("Delete intents:  %d\n", tombstones)
		if len(dead) > 0 {
			fmt.Printf("Dead uploads:    %d (photos that exhausted retries)\n", len(dead))
		}

		if len(unsynced) > 0 {
			fmt.Println(output.SectionHeader(fmt.Sprintf("Unsynced (%d)", len(unsynced))))
			for _, r := range unsynced {
				line := fmt.Sprintf("  %s %-11s %s", output.SyncBadge(r.SyncStatus), r.EntityType, r.Label)
				if r.RetryCount > 0 {
					line += fmt.Sprintf(" (retries: %d)", r.RetryCount)
					if r.SyncStatus == models.SyncFailed && r.NextRetryAt == nil {
						line += " - rejected by server, edit to retry"
					}
				}
				fmt.Println(line)
			}
		}

		fmt.Println(output.SectionHeader("Pull watermarks"))
		for _, entity := range models.EntityTypes {
			mark, err := database.GetWatermark(owner, entity)
			if err != nil {
				continue
			}
			if mark.IsZero() {
				fmt.Printf("  %-12s never\n", entity)
			} else {
				fmt.Printf("  %-12s %s\n", entity, mark.Local().Format(time.DateTime))
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(statusCmd)
}
