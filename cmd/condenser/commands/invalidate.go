package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop a user's cached summaries",
	Long: `Remove all cached summaries for the given user, forcing the next
identical submission to run through the pipeline again.`,
	RunE: runInvalidate,
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}

	env, err := getEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	dropped, err := env.svc.InvalidateCache(
		context.Background(), userID,
	)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(map[string]interface{}{
			"user_id": userID,
			"dropped": dropped,
		})
	}

	fmt.Printf("Dropped %d cached summaries for %s\n", dropped, userID)
	return nil
}
