package cmd

import (
	"fmt"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/models"
	"github.com/marcus/wander/internal/output"
	"github.com/spf13/cobra"
)

var placeCmd = &cobra.Command{
	Use:     "place",
	Short:   "Manage places",
	GroupID: "core",
}

var placeAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a place",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		lat, _ := cmd.Flags().GetFloat64("lat")
		lng, _ := cmd.Flags().GetFloat64("lng")
		address, _ := cmd.Flags().GetString("address")
		category, _ := cmd.Flags().GetString("category")

		if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return fmt.Errorf("coordinates out of range: %f,%f", lat, lng)
		}

		p := &models.Place{
			Name:     args[0],
			Lat:      lat,
			Lng:      lng,
			Address:  address,
			Category: category,
		}
		p.OwnerID = currentOwner()

		if err := database.CreatePlace(p); err != nil {
			output.Error("create place: %v", err)
			return err
		}

		fmt.Printf("CREATED %s\n", p.ID)
		autoSyncAfterMutation()
		return nil
	},
}

var placeListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List places",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		places, err := database.ListPlaces(currentOwner())
		if err != nil {
			output.Error("list places: %v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(places)
		}

		if len(places) == 0 {
			fmt.Println("No places yet. Add one with 'wander place add'.")
			return nil
		}
		for i := range places {
			fmt.Println(output.FormatPlaceShort(&places[i]))
		}
		return nil
	},
}

func init() {
	placeAddCmd.Flags().Float64("lat", 0, "Latitude")
	placeAddCmd.Flags().Float64("lng", 0, "Longitude")
	placeAddCmd.Flags().String("address", "", "Street address")
	placeAddCmd.Flags().String("category", "", "Category (restaurant, museum, ...)")
	placeListCmd.Flags().Bool("json", false, "JSON output")

	placeCmd.AddCommand(placeAddCmd)
	placeCmd.AddCommand(placeListCmd)
	rootCmd.AddCommand(placeCmd)
}
