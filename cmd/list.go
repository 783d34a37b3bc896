package cmd

import (
	"fmt"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/models"
	"github.com/marcus/wander/internal/output"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "Manage saved place lists",
	GroupID: "core",
}

var listCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a saved list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		sl := &models.SavedList{Name: args[0]}
		sl.OwnerID = currentOwner()

		if err := database.CreateSavedList(sl); err != nil {
			output.Error("create list: %v", err)
			return err
		}

		fmt.Printf("CREATED %s\n", sl.ID)
		autoSyncAfterMutation()
		return nil
	},
}

var listAddCmd = &cobra.Command{
	Use:   "add <list-id> <place-id...>",
	Short: "Add places to a saved list",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		sl, err := database.GetSavedList(args[0])
		if err != nil {
			output.Error("get list: %v", err)
			return err
		}
		if sl == nil {
			return fmt.Errorf("list %s not found", args[0])
		}

		existing := make(map[string]bool, len(sl.PlaceIDs))
		for _, id := range sl.PlaceIDs {
			existing[id] = true
		}

		added := 0
		for _, placeID := range args[1:] {
			if existing[placeID] {
				continue
			}
			p, err := database.GetPlace(placeID)
			if err != nil {
				output.Error("get place %s: %v", placeID, err)
				continue
			}
			if p == nil {
				output.Warning("place %s not found, skipping", placeID)
				continue
			}
			sl.PlaceIDs = append(sl.PlaceIDs, placeID)
			existing[placeID] = true
			added++
		}
		if added == 0 {
			fmt.Println("Nothing to add.")
			return nil
		}

		if err := database.UpdateSavedList(sl); err != nil {
			output.Error("update list: %v", err)
			return err
		}

		fmt.Printf("ADDED %d place(s) to %s\n", added, sl.ID)
		autoSyncAfterMutation()
		return nil
	},
}

var listRemoveCmd = &cobra.Command{
	Use:   "remove <list-id> <place-id...>",
	Short: "Remove places from a saved list",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		sl, err := database.GetSavedList(args[0])
		if err != nil {
			output.Error("get list: %v", err)
			return err
		}
		if sl == nil {
			return fmt.Errorf("list %s not found", args[0])
		}

		drop := make(map[string]bool, len(args)-1)
		for _, id := range args[1:] {
			drop[id] = true
		}
		kept := sl.PlaceIDs[:0]
		removed := 0
		for _, id := range sl.PlaceIDs {
			if drop[id] {
				removed++
				continue
			}
			kept = append(kept, id)
		}
		if removed == 0 {
			fmt.Println("Nothing to remove.")
			return nil
		}
		sl.PlaceIDs = kept

		if err := database.UpdateSavedList(sl); err != nil {
			output.Error("update list: %v", err)
			return err
		}

		fmt.Printf("REMOVED %d place(s) from %s\n", removed, sl.ID)
		autoSyncAfterMutation()
		return nil
	},
}

var listShowCmd = &cobra.Command{
	Use:   "show <list-id>",
	Short: "Show a saved list with its places",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		sl, err := database.GetSavedList(args[0])
		if err != nil {
			output.Error("get list: %v", err)
			return err
		}
		if sl == nil {
			return fmt.Errorf("list %s not found", args[0])
		}

		fmt.Println(output.FormatListShort(sl))
		for _, placeID := range sl.PlaceIDs {
			p, err := database.GetPlace(placeID)
			if err != nil || p == nil {
				fmt.Printf("  %s (missing locally)\n", placeID)
				continue
			}
			fmt.Println("  " + output.FormatPlaceShort(p))
		}
		return nil
	},
}

var listListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List saved lists",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		lists, err := database.ListSavedLists(currentOwner())
		if err != nil {
			output.Error("list saved lists: %v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(lists)
		}

		if len(lists) == 0 {
			fmt.Println("No saved lists yet. Create one with 'wander list create'.")
			return nil
		}
		for i := range lists {
			fmt.Println(output.FormatListShort(&lists[i]))
		}
		return nil
	},
}

func init() {
	listListCmd.Flags().Bool("json", false, "JSON output")

	listCmd.AddCommand(listCreateCmd)
	listCmd.AddCommand(listAddCmd)
	listCmd.AddCommand(listRemoveCmd)
	listCmd.AddCommand(listShowCmd)
	listCmd.AddCommand(listListCmd)
	rootCmd.AddCommand(listCmd)
}
