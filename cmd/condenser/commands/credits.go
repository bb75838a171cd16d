package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage user credits",
	Long:  `Inspect and grant summarization credits.`,
	RunE:  runCreditsBalance,
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant <amount>",
	Short: "Add credits to a user's balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsGrant,
}

func init() {
	creditsCmd.AddCommand(creditsGrantCmd)
}

func runCreditsBalance(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}

	env, err := getEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	balance, err := env.svc.CreditBalance(context.Background(), userID)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(map[string]interface{}{
			"user_id": userID,
			"balance": balance,
		})
	}

	fmt.Printf("Balance for %s: %d\n", userID, balance)
	return nil
}

func runCreditsGrant(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}

	amount, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[0], err)
	}

	env, err := getEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	balance, err := env.svc.GrantCredits(
		context.Background(), userID, amount,
	)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(map[string]interface{}{
			"user_id": userID,
			"balance": balance,
		})
	}

	fmt.Printf("Granted %d credits to %s (balance: %d)\n",
		amount, userID, balance)
	return nil
}
