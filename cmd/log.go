package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/models"
	"github.com/marcus/wander/internal/output"
	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:     "log",
	Short:   "Manage visit logs",
	GroupID: "core",
}

var logAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Log a visit to a place",
	Long: `Logs a visit. With --place the log is created directly from flags;
without it an interactive form opens.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		placeID, _ := cmd.Flags().GetString("place")
		tripID, _ := cmd.Flags().GetString("trip")
		rating, _ := cmd.Flags().GetInt("rating")
		note, _ := cmd.Flags().GetString("note")
		tags, _ := cmd.Flags().GetStringSlice("tags")
		when, _ := cmd.Flags().GetString("when")

		if placeID == "" {
			l, err := logEntryForm(database)
			if err != nil {
				return err
			}
			if l == nil {
				return nil // cancelled
			}
			placeID, tripID = l.PlaceID, l.TripID
			rating, note, tags = l.Rating, l.Note, l.Tags
		}

		if rating < 0 || rating > 5 {
			return fmt.Errorf("rating must be 1-5 (or 0 for unrated)")
		}

		place, err := database.GetPlace(placeID)
		if err != nil {
			output.Error("get place: %v", err)
			return err
		}
		if place == nil {
			return fmt.Errorf("place %s not found", placeID)
		}
		if tripID != "" {
			trip, err := database.GetTrip(tripID)
			if err != nil {
				output.Error("get trip: %v", err)
				return err
			}
			if trip == nil {
				return fmt.Errorf("trip %s not found", tripID)
			}
		}

		visitedAt := time.Now().UTC()
		if when != "" {
			visitedAt, err = time.Parse("2006-01-02", when)
			if err != nil {
				return fmt.Errorf("invalid --when %q (expected YYYY-MM-DD)", when)
			}
		}

		l := &models.Log{
			PlaceID:   placeID,
			TripID:    tripID,
			Rating:    rating,
			Note:      note,
			Tags:      tags,
			VisitedAt: visitedAt,
		}
		l.OwnerID = currentOwner()

		if err := database.CreateLog(l); err != nil {
			output.Error("create log: %v", err)
			return err
		}

		fmt.Printf("CREATED %s (%s)\n", l.ID, place.Name)
		autoSyncAfterMutation()
		return nil
	},
}

// logEntryForm collects a log interactively.
func logEntryForm(database *db.DB) (*models.Log, error) {
	places, err := database.ListPlaces(currentOwner())
	if err != nil {
		return nil, fmt.Errorf("list places: %w", err)
	}
	if len(places) == 0 {
		return nil, fmt.Errorf("no places yet; add one with 'wander place add'")
	}
	trips, err := database.ListTrips(currentOwner())
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}

	placeOptions := make([]huh.Option[string], 0, len(places))
	for _, p := range places {
		placeOptions = append(placeOptions, huh.NewOption(p.Name, p.ID))
	}
	tripOptions := []huh.Option[string]{huh.NewOption("(none)", "")}
	for _, t := range trips {
		tripOptions = append(tripOptions, huh.NewOption(t.Name, t.ID))
	}
	ratingOptions := []huh.Option[string]{
		huh.NewOption("Unrated", "0"),
		huh.NewOption("★", "1"),
		huh.NewOption("★★", "2"),
		huh.NewOption("★★★", "3"),
		huh.NewOption("★★★★", "4"),
		huh.NewOption("★★★★★", "5"),
	}

	var placeID, tripID, ratingStr, note, tagsStr string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Place").
				Options(placeOptions...).
				Value(&placeID),
			huh.NewSelect[string]().
				Title("Trip").
				Options(tripOptions...).
				Value(&tripID),
			huh.NewSelect[string]().
				Title("Rating").
				Options(ratingOptions...).
				Value(&ratingStr),
			huh.NewText().
				Title("Note").
				Value(&note).
				Placeholder("How was it?").
				Lines(3),
			huh.NewInput().
				Title("Tags").
				Value(&tagsStr).
				Placeholder("food, rooftop, ..."),
		).Title("Log a visit"),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return nil, nil
		}
		return nil, err
	}

	rating, _ := strconv.Atoi(ratingStr)
	return &models.Log{
		PlaceID: placeID,
		TripID:  tripID,
		Rating:  rating,
		Note:    note,
		Tags:    splitTags(tagsStr),
	}, nil
}

func splitTags(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var logListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		tripID, _ := cmd.Flags().GetString("trip")

		logs, err := database.ListLogs(currentOwner(), tripID)
		if err != nil {
			output.Error("list logs: %v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(logs)
		}

		if len(logs) == 0 {
			fmt.Println("No logs yet. Add one with 'wander log add'.")
			return nil
		}
		for i := range logs {
			placeName := ""
			if p, err := database.GetPlace(logs[i].PlaceID); err == nil && p != nil {
				placeName = p.Name
			}
			fmt.Println(output.FormatLogShort(&logs[i], placeName))
		}
		return nil
	},
}

var logEditCmd = &cobra.Command{
	Use:   "edit <log-id>",
	Short: "Edit a log's note or rating",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		l, err := database.GetLog(args[0])
		if err != nil {
			output.Error("get log: %v", err)
			return err
		}
		if l == nil {
			return fmt.Errorf("log %s not found", args[0])
		}

		if cmd.Flags().Changed("note") {
			l.Note, _ = cmd.Flags().GetString("note")
		}
		if cmd.Flags().Changed("rating") {
			rating, _ := cmd.Flags().GetInt("rating")
			if rating < 0 || rating > 5 {
				return fmt.Errorf("rating must be 1-5 (or 0 for unrated)")
			}
			l.Rating = rating
		}
		if cmd.Flags().Changed("tags") {
			l.Tags, _ = cmd.Flags().GetStringSlice("tags")
		}

		if err := database.UpdateLog(l); err != nil {
			output.Error("update log: %v", err)
			return err
		}

		fmt.Printf("UPDATED %s\n", l.ID)
		autoSyncAfterMutation()
		return nil
	},
}

func init() {
	logAddCmd.Flags().String("place", "", "Place ID (pl-...)")
	logAddCmd.Flags().String("trip", "", "Trip ID (tr-...)")
	logAddCmd.Flags().Int("rating", 0, "Rating 1-5 (0 = unrated)")
	logAddCmd.Flags().String("note", "", "Note text")
	logAddCmd.Flags().StringSlice("tags", nil, "Comma-separated tags")
	logAddCmd.Flags().String("when", "", "Visit date (YYYY-MM-DD, default today)")

	logListCmd.Flags().String("trip", "", "Filter by trip ID")
	logListCmd.Flags().Bool("json", false, "JSON output")

	logEditCmd.Flags().String("note", "", "New note text")
	logEditCmd.Flags().Int("rating", 0, "New rating 1-5 (0 = unrated)")
	logEditCmd.Flags().StringSlice("tags", nil, "New comma-separated tags")

	logCmd.AddCommand(logAddCmd)
	logCmd.AddCommand(logListCmd)
	logCmd.AddCommand(logEditCmd)
	rootCmd.AddCommand(logCmd)
}
