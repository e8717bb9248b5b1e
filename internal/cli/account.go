package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rpcwarden/internal/api"
)

var (
	registerName       string
	interactionKind    string
	interactionWeight  uint64
	rewardKind         string
	rewardBase         string
	rewardSignificance uint64
	reportReporter     string
)

func init() {
	rootCmd.AddCommand(accountCmd, rewardCmd, fundCmd, statsCmd)
	accountCmd.AddCommand(accountRegisterCmd, accountShowCmd, accountRewardsCmd,
		accountInteractCmd, accountReportCmd, accountDeactivateCmd)

	accountRegisterCmd.Flags().StringVar(&registerName, "name", "", "Display name")

	accountInteractCmd.Flags().StringVar(&interactionKind, "kind", "helpful", "Interaction kind (like|comment|post|helpful|validation|purchase)")
	accountInteractCmd.Flags().Uint64Var(&interactionWeight, "weight", 1, "Number of interactions to record")

	accountReportCmd.Flags().StringVar(&reportReporter, "reporter", "", "Reporting account id (required)")
	_ = accountReportCmd.MarkFlagRequired("reporter")

	rewardCmd.Flags().StringVar(&rewardKind, "kind", "validation", "Interaction kind the reward is for")
	rewardCmd.Flags().StringVar(&rewardBase, "base", "", "Base amount in token units (required)")
	rewardCmd.Flags().Uint64Var(&rewardSignificance, "significance", 500, "Significance score 0-1000")
	_ = rewardCmd.MarkFlagRequired("base")
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Ledger account operations",
}

var accountRegisterCmd = &cobra.Command{
	Use:   "register <id>",
	Short: "Register an account (trust score starts at 100)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		acct, err := apiClient().Register(cmd.Context(), args[0], registerName)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), acct)
	},
}

var accountShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an account's trust score, tier, and balances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		acct, err := apiClient().Account(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), acct)
	},
}

var accountRewardsCmd = &cobra.Command{
	Use:   "rewards <id>",
	Short: "List an account's reward history, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rewards, err := apiClient().Rewards(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(rewards) == 0 {
			fmt.Fprintln(out, "No rewards recorded.")
			return nil
		}
		fmt.Fprintf(out, "%-5s  %-10s  %-12s  %-5s  %-9s  %-8s  %s\n", "SEQ", "KIND", "BASE", "SIG", "TIER", "BAND", "FINAL")
		for _, r := range rewards {
			fmt.Fprintf(out, "%-5d  %-10s  %-12s  %-5d  %-9s  %-8s  %s\n",
				r.Seq, r.Kind, r.BaseAmount, r.Significance, r.Tier, r.Band, r.FinalAmount)
		}
		return nil
	},
}

var accountInteractCmd = &cobra.Command{
	Use:   "interact <id>",
	Short: "Record interactions against an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiClient().RecordInteraction(cmd.Context(), args[0], api.InteractionRequest{
			Kind:   interactionKind,
			Weight: interactionWeight,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s trust score: %d\n", resp.AccountID, resp.TrustScore)
		return nil
	},
}

var accountReportCmd = &cobra.Command{
	Use:   "report <id>",
	Short: "Record that --reporter flagged an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiClient().Report(cmd.Context(), args[0], reportReporter)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s trust score: %d\n", resp.AccountID, resp.TrustScore)
		return nil
	},
}

var accountDeactivateCmd = &cobra.Command{
	Use:   "deactivate <id>",
	Short: "Deactivate an account; its calls are refused until it re-registers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		acct, err := apiClient().Deactivate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %s\n", acct.ID)
		return nil
	},
}

var rewardCmd = &cobra.Command{
	Use:   "reward <id>",
	Short: "Pay a significance reward from the treasury",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := apiClient().Reward(cmd.Context(), args[0], api.RewardRequest{
			Kind:         rewardKind,
			BaseAmount:   rewardBase,
			Significance: rewardSignificance,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), r)
	},
}

var fundCmd = &cobra.Command{
	Use:   "fund <amount>",
	Short: "Add tokens to the treasury",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := apiClient().Fund(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Treasury: %s (circulating %s)\n", t.Balance, t.Circulating)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger totals and call history counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := apiClient().Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}
