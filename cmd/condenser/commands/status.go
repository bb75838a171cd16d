package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/condenser-ai/condenser/internal/artifact"
	"github.com/condenser-ai/condenser/internal/pipeline"
)

var statusWait bool

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show job state and progress",
	Long: `Display the state, progress, and result of a summarization job.

With --wait, polls until the job reaches a terminal state.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(
		&statusWait, "wait", false,
		"Poll until the job completes or fails",
	)
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := getEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	jobID := args[0]

	for {
		status, err := env.svc.Status(ctx, jobID)
		if err != nil {
			return err
		}

		if !statusWait || status.State.Terminal() {
			return printStatus(status)
		}

		time.Sleep(500 * time.Millisecond)
	}
}

func printStatus(status pipeline.JobStatus) error {
	if outputFormat == "json" {
		out := map[string]interface{}{
			"job_id":   status.JobID,
			"class":    string(status.Class),
			"state":    string(status.State),
			"progress": status.Progress,
			"attempts": status.Attempts,
		}
		status.Artifact.WhenSome(func(a artifact.Artifact) {
			out["summary"] = a.SummaryText
			out["compression_ratio"] = a.CompressionRatio
			out["is_fallback"] = a.IsFallback
		})
		status.FailureReason.WhenSome(func(r string) {
			out["failure_reason"] = r
		})
		return outputJSON(out)
	}

	fmt.Printf("Job:      %s\n", status.JobID)
	fmt.Printf("Class:    %s\n", status.Class)
	fmt.Printf("State:    %s\n", status.State)
	fmt.Printf("Progress: %d%%\n", status.Progress)
	fmt.Printf("Attempts: %d\n", status.Attempts)

	status.FailureReason.WhenSome(func(r string) {
		fmt.Printf("Failure:  %s\n", r)
	})
	status.Artifact.WhenSome(func(a artifact.Artifact) {
		fmt.Println()
		fmt.Println(a.SummaryText)
		fmt.Printf("\n(%d -> %d words", a.OriginalWordCount,
			a.SummaryWordCount)
		if a.IsFallback {
			fmt.Print(", extractive fallback")
		}
		fmt.Println(")")
	})

	return nil
}
