package cmd

import (
	"fmt"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/output"
	wandersync "github.com/marcus/wander/internal/sync"
	"github.com/marcus/wander/internal/syncclient"
	"github.com/marcus/wander/internal/syncconfig"
	"github.com/spf13/cobra"
)

// buildSyncStack wires the client, engine, and uploader from saved credentials.
func buildSyncStack(database *db.DB) (*wandersync.Engine, *wandersync.Uploader, error) {
	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		return nil, nil, fmt.Errorf("get device id: %w", err)
	}
	client := syncclient.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey(), deviceID)
	engine := wandersync.NewEngine(database, client)
	uploader := wandersync.NewUploader(database, client)
	return engine, uploader, nil
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Sync local data with the server",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pushOnly, _ := cmd.Flags().GetBool("push")
		pullOnly, _ := cmd.Flags().GetBool("pull")

		if statusOnly, _ := cmd.Flags().GetBool("status"); statusOnly {
			return statusCmd.RunE(cmd, args)
		}

		if !syncconfig.IsAuthenticated() {
			output.Error("not logged in (run: wander auth login)")
			return fmt.Errorf("not authenticated")
		}

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

		if !pullOnly {
			report, err := engine.PushPending(ctx, owner)
			if err != nil {
				output.Error("push: %v", err)
				return err
			}
			fmt.Printf("PUSH: %d sent, %d deleted, %d deferred\n",
				report.Pushed, report.Deleted, report.Failed)
		}

		if !pushOnly {
			report, err := engine.PullRemoteChanges(ctx, owner)
			if err != nil {
				output.Error("pull: %v", err)
				return err
			}
			fmt.Printf("PULL: %d applied, %d deleted, %d kept local\n",
				report.Applied, report.Deleted, report.Skipped)
		}

		if !pullOnly {
			report, err := uploader.ProcessDue(ctx)
			if err != nil {
				output.Error("uploads: %v", err)
				return err
			}
			if report.Uploaded+report.Deferred+report.Dead > 0 {
				fmt.Printf("UPLOADS: %d done, %d deferred, %d dead\n",
					report.Uploaded, report.Deferred, report.Dead)
			}
		}

		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("push", false, "Push only")
	syncCmd.Flags().Bool("pull", false, "Pull only")
	syncCmd.Flags().Bool("status", false, "Show sync status instead of syncing")
	rootCmd.AddCommand(syncCmd)
}
