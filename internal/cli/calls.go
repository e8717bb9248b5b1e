package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rpcwarden/internal/model"
)

var (
	callsLimit int
	callsJSON  bool
)

func init() {
	rootCmd.AddCommand(callsCmd, callCmd, approveCmd)
	callsCmd.Flags().IntVarP(&callsLimit, "limit", "n", 20, "Number of recent calls to show (0 for all)")
	callsCmd.Flags().BoolVar(&callsJSON, "json", false, "Print full call records as JSON")
}

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "List recent calls, newest first",
	Args:  cobra.NoArgs,
	RunE:  runCalls,
}

var callCmd = &cobra.Command{
	Use:   "call <id>",
	Short: "Show one call with its verdicts and response",
	Args:  cobra.ExactArgs(1),
	RunE:  runCall,
}

var approveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Release a held call to the upstream node",
	Long:  "Approves a call held for manual review. The call is forwarded upstream\nand its final record printed. A call can be approved once.",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

func runCalls(cmd *cobra.Command, args []string) error {
	calls, err := apiClient().Calls(cmd.Context(), callsLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if callsJSON {
		return printJSON(out, calls)
	}
	if len(calls) == 0 {
		fmt.Fprintln(out, "No calls recorded.")
		return nil
	}
	writeCallTable(out, calls)
	return nil
}

func runCall(cmd *cobra.Command, args []string) error {
	c, err := apiClient().Call(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), c)
}

func runApprove(cmd *cobra.Command, args []string) error {
	c, err := apiClient().Approve(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Approved %s: %s\n", c.ID, c.Status)
	if c.Status == model.StatusFailed {
		return fmt.Errorf("forward failed: %s", c.Error)
	}
	return nil
}

func writeCallTable(w io.Writer, calls []model.Call) {
	fmt.Fprintf(w, "%-36s  %-8s  %-10s  %-6s  %-26s  %s\n", "ID", "TIME", "STATUS", "RISK", "METHOD", "RULE")
	for _, c := range calls {
		status := string(c.Status)
		if c.Held && c.Status == model.StatusPending {
			status = "held"
		}
		fmt.Fprintf(w, "%-36s  %-8s  %-10s  %-6s  %-26s  %s\n",
			c.ID,
			c.ReceivedAt.UTC().Format("15:04:05"),
			strings.ToUpper(status),
			c.Risk.Level,
			c.Request.Method,
			c.Decision.Rule)
	}
}
