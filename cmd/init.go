package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/output"
	"github.com/marcus/wander/internal/syncconfig"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize the local wander store",
	Long:    `Creates the .wander directory and SQLite database under the data directory.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := getBaseDir()

		if _, err := os.Stat(filepath.Join(dir, ".wander")); err == nil {
			output.Warning(".wander/ already exists at %s", dir)
			return nil
		}

		database, err := db.Initialize(dir)
		if err != nil {
			output.Error("failed to initialize database: %v", err)
			return err
		}
		defer database.Close()

		fmt.Printf("INITIALIZED %s\n", filepath.Join(dir, ".wander"))

		// A stable device ID ties this install's writes together on the
		// server and keeps change notifications from echoing back.
		deviceID, err := syncconfig.GetDeviceID()
		if err != nil {
			output.Error("failed to create device id: %v", err)
			return err
		}
		fmt.Printf("Device: %s\n", deviceID)

		fmt.Println()
		fmt.Println("Next: 'wander auth login' to enable sync, or start logging with 'wander place add'.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
