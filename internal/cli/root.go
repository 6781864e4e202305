// Package cli implements the escrow command-line interface using Cobra.
// Commands open the node's store in-process and act as the --from key.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "escrow",
	Short: "escrow: two-party task escrow with dispute resolution",
	Long: `escrow runs a task escrow node.

A client locks payment for a task, an agent stakes and delivers, and
disputes escalate to an external arbitration oracle whose verdict settles
the task. Every balance lives in the node's internal ledger.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	fromFlag   string
	asFlag     string
	outputFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&fromFlag, "from", "node", "Key name(s) in $ESCROW_HOME/keys, comma separated for wallets")
	rootCmd.PersistentFlags().StringVar(&asFlag, "as", "", "Act as this wallet address, signed by the --from owner keys")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "text", "Output format: text, json or yaml")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
