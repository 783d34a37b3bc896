package cmd

import (
	"fmt"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/output"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete [id...]",
	Aliases: []string{"rm"},
	Short:   "Delete records by ID",
	Long: `Deletes places, trips, logs, or saved lists. The entity type is inferred
from the ID prefix. The local row is removed immediately; the delete reaches
the server on the next sync and is retried until acknowledged.`,
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		owner := currentOwner()
		for _, id := range args {
			entity, err := entityForID(id)
			if err != nil {
				output.Error("%v", err)
				continue
			}
			if err := database.Delete(entity, id, owner); err != nil {
				output.Error("failed to delete %s: %v", id, err)
				continue
			}
			fmt.Printf("DELETED %s\n", id)
		}

		autoSyncAfterMutation()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
