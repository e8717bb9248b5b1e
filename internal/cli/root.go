package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rpcwarden/internal/client"
)

// EnvAddr overrides the default management API address.
const EnvAddr = "RPCWARDEN_ADDR"

var (
	configPath string
	adminAddr  string
)

var rootCmd = &cobra.Command{
	Use:   "rpcwarden",
	Short: "Admission-control gateway for JSON-RPC traffic",
	Long: "Sits in front of a JSON-RPC node. Every call is risk-classified and checked\n" +
		"against the sender's ledger reputation before it is forwarded, rejected,\n" +
		"or held for manual approval.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config YAML (default ~/.rpcwarden/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "addr", "", "Management API address (default $"+EnvAddr+" or "+client.DefaultAddr+")")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// apiClient returns a management API client for --addr.
func apiClient() *client.Client {
	addr := adminAddr
	if addr == "" {
		addr = os.Getenv(EnvAddr)
	}
	return client.New(addr)
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
