package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcus/wander/internal/models"
	"github.com/marcus/wander/internal/syncconfig"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	version string
	baseDir string
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
	rootCmd.Version = version
}

var rootCmd = &cobra.Command{
	Use:   "wander",
	Short: "Offline-first travel log CLI",
	Long: `wander - A local-first travel log: places, trips, and visit logs stored in
SQLite on this device and synced to a wander-sync server when one is reachable.

Every command works offline; edits queue locally and sync in the background.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	cobra.OnInitialize(initBaseDir)

	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)
	cobra.AddTemplateFunc("add", func(a, b int) int { return a + b })

	// Custom usage template that shows aliases inline
	usageTemplate := `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`
	rootCmd.SetUsageTemplate(usageTemplate)

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "query", Title: "Query Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)

	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")

	// Accept snake_case flag spellings (--auto_sync == --auto-sync).
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
}

// initBaseDir resolves the data directory: WANDER_HOME if set, otherwise the
// user's home directory. The store lives under <baseDir>/.wander.
func initBaseDir() {
	if dir := os.Getenv("WANDER_HOME"); dir != "" {
		baseDir = dir
		return
	}
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir = home
}

// getBaseDir returns the base directory for the local store
func getBaseDir() string {
	return baseDir
}

// localOwner is the owner assigned to records created before the device has
// logged in. The first login reassigns these to the authenticated user.
const localOwner = "local"

// currentOwner returns the owner ID new records are written under.
func currentOwner() string {
	if id := syncconfig.GetUserID(); id != "" {
		return id
	}
	return localOwner
}

// entityForID infers the entity type from a record ID prefix.
func entityForID(id string) (models.EntityType, error) {
	switch {
	case strings.HasPrefix(id, "pl-"):
		return models.EntityPlace, nil
	case strings.HasPrefix(id, "tr-"):
		return models.EntityTrip, nil
	case strings.HasPrefix(id, "lg-"):
		return models.EntityLog, nil
	case strings.HasPrefix(id, "sl-"):
		return models.EntityList, nil
	}
	return "", fmt.Errorf("unrecognized id %q (expected pl-, tr-, lg-, or sl- prefix)", id)
}
