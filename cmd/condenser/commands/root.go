package commands

import (
	"github.com/spf13/cobra"
)

var (
	// dbPath is the path to the SQLite database.
	dbPath string

	// userID identifies the acting user for submissions and credit
	// operations.
	userID string

	// outputFormat controls output format (text, json).
	outputFormat string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "condenser",
	Short: "Condenser summarization pipeline CLI",
	Long: `Condenser CLI submits text for asynchronous AI summarization and
inspects the pipeline.

Submissions are cached per user and paid for from a per-user credit
balance; poll submitted jobs with the status command.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags.
	rootCmd.PersistentFlags().StringVar(
		&dbPath, "db", "",
		"Path to SQLite database (default: ~/.condenser/condenser.db)",
	)
	rootCmd.PersistentFlags().StringVar(
		&userID, "user", "",
		"User ID for submissions and credit operations",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "text",
		"Output format: text, json",
	)

	// Add subcommands.
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(creditsCmd)
	rootCmd.AddCommand(invalidateCmd)
}
