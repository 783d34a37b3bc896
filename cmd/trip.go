package cmd

import (
	"fmt"
	"time"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/models"
	"github.com/marcus/wander/internal/output"
	"github.com/spf13/cobra"
)

var tripCmd = &cobra.Command{
	Use:     "trip",
	Short:   "Manage trips",
	GroupID: "core",
}

func parseDateFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	val, _ := cmd.Flags().GetString(name)
	if val == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", val)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q (expected YYYY-MM-DD)", name, val)
	}
	return &t, nil
}

var tripAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a trip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		start, err := parseDateFlag(cmd, "start")
		if err != nil {
			return err
		}
		end, err := parseDateFlag(cmd, "end")
		if err != nil {
			return err
		}
		if start != nil && end != nil && end.Before(*start) {
			return fmt.Errorf("trip ends before it starts")
		}
		notes, _ := cmd.Flags().GetString("notes")

		t := &models.Trip{
			Name:      args[0],
			Notes:     notes,
			StartDate: start,
			EndDate:   end,
		}
		t.OwnerID = currentOwner()

		if err := database.CreateTrip(t); err != nil {
			output.Error("create trip: %v", err)
			return err
		}

		fmt.Printf("CREATED %s\n", t.ID)
		autoSyncAfterMutation()
		return nil
	},
}

var tripListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List trips (owned and shared)",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		trips, err := database.ListTrips(currentOwner())
		if err != nil {
			output.Error("list trips: %v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(trips)
		}

		if len(trips) == 0 {
			fmt.Println("No trips yet. Add one with 'wander trip add'.")
			return nil
		}
		for i := range trips {
			fmt.Println(output.FormatTripShort(&trips[i]))
		}
		return nil
	},
}

var tripShowCmd = &cobra.Command{
	Use:   "show <trip-id>",
	Short: "Show a trip with its logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		t, err := database.GetTrip(args[0])
		if err != nil {
			output.Error("get trip: %v", err)
			return err
		}
		if t == nil {
			return fmt.Errorf("trip %s not found", args[0])
		}

		fmt.Println(output.FormatTripShort(t))
		if len(t.Collaborators) > 0 {
			fmt.Printf("Shared with: %v\n", t.Collaborators)
		}
		if t.Notes != "" {
			rendered, err := output.RenderMarkdown(t.Notes)
			if err != nil {
				fmt.Println(t.Notes)
			} else {
				fmt.Print(rendered)
			}
		}

		logs, err := database.ListLogs(currentOwner(), t.ID)
		if err != nil {
			output.Error("list logs: %v", err)
			return err
		}
		if len(logs) > 0 {
			fmt.Println(output.SectionHeader(fmt.Sprintf("Logs (%d)", len(logs))))
			for i := range logs {
				placeName := ""
				if p, err := database.GetPlace(logs[i].PlaceID); err == nil && p != nil {
					placeName = p.Name
				}
				fmt.Println(output.FormatLogShort(&logs[i], placeName))
			}
		}
		return nil
	},
}

var tripShareCmd = &cobra.Command{
	Use:   "share <trip-id> <user-id>",
	Short: "Share a trip with another user",
	Long: `Adds a collaborator to a trip. Collaborators see the trip, its logs, and
the places those logs reference on their next pull.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		t, err := database.GetTrip(args[0])
		if err != nil {
			output.Error("get trip: %v", err)
			return err
		}
		if t == nil {
			return fmt.Errorf("trip %s not found", args[0])
		}
		if t.OwnerID != currentOwner() {
			return fmt.Errorf("only the trip owner can share it")
		}

		userID := args[1]
		for _, c := range t.Collaborators {
			if c == userID {
				output.Warning("already shared with %s", userID)
				return nil
			}
		}
		t.Collaborators = append(t.Collaborators, userID)

		if err := database.UpdateTrip(t); err != nil {
			output.Error("update trip: %v", err)
			return err
		}

		output.Success("Shared %s with %s", t.ID, userID)
		autoSyncAfterMutation()
		return nil
	},
}

var tripUnshareCmd = &cobra.Command{
	Use:   "unshare <trip-id> <user-id>",
	Short: "Remove a collaborator from a trip",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		t, err := database.GetTrip(args[0])
		if err != nil {
			output.Error("get trip: %v", err)
			return err
		}
		if t == nil {
			return fmt.Errorf("trip %s not found", args[0])
		}
		if t.OwnerID != currentOwner() {
			return fmt.Errorf("only the trip owner can unshare it")
		}

		userID := args[1]
		kept := t.Collaborators[:0]
		removed := false
		for _, c := range t.Collaborators {
			if c == userID {
				removed = true
				continue
			}
			kept = append(kept, c)
		}
		if !removed {
			output.Warning("%s is not a collaborator on %s", userID, t.ID)
			return nil
		}
		t.Collaborators = kept

		if err := database.UpdateTrip(t); err != nil {
			output.Error("update trip: %v", err)
			return err
		}

		output.Success("Removed %s from %s", userID, t.ID)
		autoSyncAfterMutation()
		return nil
	},
}

func init() {
	tripAddCmd.Flags().String("start", "", "Start date (YYYY-MM-DD)")
	tripAddCmd.Flags().String("end", "", "End date (YYYY-MM-DD)")
	tripAddCmd.Flags().String("notes", "", "Trip notes (markdown)")
	tripListCmd.Flags().Bool("json", false, "JSON output")

	tripCmd.AddCommand(tripAddCmd)
	tripCmd.AddCommand(tripListCmd)
	tripCmd.AddCommand(tripShowCmd)
	tripCmd.AddCommand(tripShareCmd)
	tripCmd.AddCommand(tripUnshareCmd)
	rootCmd.AddCommand(tripCmd)
}
