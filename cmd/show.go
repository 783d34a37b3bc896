package cmd

import (
	"fmt"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/models"
	"github.com/marcus/wander/internal/output"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:     "show <id>",
	Short:   "Show a record by ID",
	Long:    `Shows a place, trip, log, or saved list. The entity type is inferred from the ID prefix.`,
	GroupID: "query",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		entity, err := entityForID(id)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		jsonOut, _ := cmd.Flags().GetBool("json")

		switch entity {
		case models.EntityPlace:
			p, err := database.GetPlace(id)
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("place %s not found", id)
			}
			if jsonOut {
				return output.JSON(p)
			}
			fmt.Println(output.FormatPlaceShort(p))
			if p.Address != "" {
				fmt.Printf("  %s\n", p.Address)
			}

		case models.EntityTrip:
			return tripShowCmd.RunE(cmd, args)

		case models.EntityLog:
			l, err := database.GetLog(id)
			if err != nil {
				return err
			}
			if l == nil {
				return fmt.Errorf("log %s not found", id)
			}
			if jsonOut {
				return output.JSON(l)
			}
			place, _ := database.GetPlace(l.PlaceID)
			var trip *models.Trip
			if l.TripID != "" {
				trip, _ = database.GetTrip(l.TripID)
			}
			fmt.Println(output.FormatLogLong(l, place, trip))

		case models.EntityList:
			return listShowCmd.RunE(cmd, args)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(showCmd)
}
