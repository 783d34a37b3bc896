package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/output"
	"github.com/spf13/cobra"
)

var photoCmd = &cobra.Command{
	Use:     "photo",
	Short:   "Manage log photos",
	GroupID: "core",
}

var photoAddCmd = &cobra.Command{
	Use:   "add <log-id> <file>",
	Short: "Attach a photo to a log",
	Long: `Copies the file into the local blob store, queues it for upload, and
attaches a pending reference to the log. The log syncs immediately; the
reference resolves to a durable URL once the upload completes.`,
	Args: cobra.ExactArgs(2),
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

		blobID, err := db.NewBlobID()
		if err != nil {
			return err
		}

		// Copy into the blob store so the queued upload survives the
		// source file moving or the command exiting.
		blobPath, err := copyToBlobStore(args[1], blobID)
		if err != nil {
			output.Error("stage photo: %v", err)
			return err
		}

		// EnqueueUpload attaches the pending photo marker to the log and
		// re-marks it pending in the same call.
		if err := database.EnqueueUpload(blobID, l.ID, blobPath); err != nil {
			output.Error("queue upload: %v", err)
			return err
		}

		fmt.Printf("QUEUED %s for %s\n", blobID, l.ID)
		autoSyncAfterMutation()
		return nil
	},
}

func copyToBlobStore(src, blobID string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	dir := filepath.Join(getBaseDir(), ".wander", "blobs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	dst := filepath.Join(dir, blobID+filepath.Ext(src))
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dst)
		return "", err
	}
	return dst, nil
}

var photoListCmd = &cobra.Command{
	Use:   "list <log-id>",
	Short: "List a log's photos and their upload state",
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

		if len(l.Photos) == 0 {
			fmt.Println("No photos.")
			return nil
		}
		for _, ref := range l.Photos {
			if ref.Pending() {
				state := "queued"
				if up, err := database.GetUpload(ref.BlobID); err == nil && up != nil {
					state = string(up.State)
				}
				fmt.Printf("  %s (%s)\n", ref.BlobID, state)
			} else {
				fmt.Printf("  %s\n", ref.URL)
			}
		}
		return nil
	},
}

func init() {
	photoCmd.AddCommand(photoAddCmd)
	photoCmd.AddCommand(photoListCmd)
	rootCmd.AddCommand(photoCmd)
}
