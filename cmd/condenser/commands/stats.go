package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/condenser-ai/condenser/internal/queue"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	Long:  `Display aggregate job counts for both queue classes.`,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	env, err := getEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	classes := []queue.Class{queue.ClassText, queue.ClassFile}

	if outputFormat == "json" {
		out := make(map[string]interface{}, len(classes))
		for _, class := range classes {
			stats, err := env.svc.QueueStats(ctx, class)
			if err != nil {
				return err
			}
			out[string(class)] = map[string]int64{
				"waiting":   stats.Waiting,
				"active":    stats.Active,
				"completed": stats.Completed,
				"failed":    stats.Failed,
				"delayed":   stats.Delayed,
				"total":     stats.Total(),
			}
		}
		return outputJSON(out)
	}

	for _, class := range classes {
		stats, err := env.svc.QueueStats(ctx, class)
		if err != nil {
			return err
		}

		fmt.Printf("%s queue:\n", class)
		fmt.Printf("  waiting:   %d\n", stats.Waiting)
		fmt.Printf("  active:    %d\n", stats.Active)
		fmt.Printf("  delayed:   %d\n", stats.Delayed)
		fmt.Printf("  completed: %d\n", stats.Completed)
		fmt.Printf("  failed:    %d\n", stats.Failed)
		fmt.Printf("  total:     %d\n", stats.Total())
	}

	return nil
}
