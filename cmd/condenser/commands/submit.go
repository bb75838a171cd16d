package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/condenser-ai/condenser/internal/artifact"
	"github.com/condenser-ai/condenser/internal/pipeline"
	"github.com/condenser-ai/condenser/internal/summarizer"
)

var (
	submitFile   string
	submitModel  string
	submitPrompt string
)

var submitCmd = &cobra.Command{
	Use:   "submit [text]",
	Short: "Submit text for summarization",
	Long: `Submit text for asynchronous summarization.

Reads the text from the argument, from --file, or from stdin. Prints the
cached summary immediately on a cache hit, otherwise the job ID to poll
with the status command.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(
		&submitFile, "file", "",
		"Read the text from this file and use the file queue",
	)
	submitCmd.Flags().StringVar(
		&submitModel, "model", "",
		"Override the summarization model",
	)
	submitCmd.Flags().StringVar(
		&submitPrompt, "prompt", "",
		"Custom system prompt for the summarizer",
	)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}

	env, err := getEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	opts := summarizer.Options{
		Model:        submitModel,
		CustomPrompt: submitPrompt,
	}

	var result pipeline.SubmitResult
	if submitFile != "" {
		data, err := os.ReadFile(submitFile)
		if err != nil {
			return fmt.Errorf("read %s: %w", submitFile, err)
		}

		result, err = env.svc.SubmitFile(
			ctx, userID, string(data), submitFile, opts,
		)
		if err != nil {
			return err
		}
	} else {
		text, err := readInput(args)
		if err != nil {
			return err
		}

		result, err = env.svc.Submit(ctx, userID, text, opts)
		if err != nil {
			return err
		}
	}

	return printSubmitResult(result)
}

func printSubmitResult(res pipeline.SubmitResult) error {
	if outputFormat == "json" {
		out := map[string]interface{}{
			"from_cache": res.FromCache,
		}
		res.CreditsRemaining.WhenSome(func(balance int64) {
			out["credits_remaining"] = balance
		})
		res.JobID.WhenSome(func(id string) {
			out["job_id"] = id
		})
		res.Artifact.WhenSome(func(a artifact.Artifact) {
			out["summary"] = a.SummaryText
		})
		return outputJSON(out)
	}

	if res.FromCache {
		art := res.Artifact.UnwrapOr(artifact.Artifact{})
		fmt.Println("Cached summary:")
		fmt.Println()
		fmt.Println(art.SummaryText)
		fmt.Printf("\n(%d -> %d words, no credit spent)\n",
			art.OriginalWordCount, art.SummaryWordCount)
		res.CreditsRemaining.WhenSome(func(balance int64) {
			fmt.Printf("Credits remaining: %d\n", balance)
		})
		return nil
	}

	fmt.Printf("Job queued: %s\n", res.JobID.UnwrapOr(""))
	res.CreditsRemaining.WhenSome(func(balance int64) {
		fmt.Printf("Credits remaining: %d\n", balance)
	})
	fmt.Printf("Poll with: condenser status %s\n",
		res.JobID.UnwrapOr(""))

	return nil
}
