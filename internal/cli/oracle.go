package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tutu-network/escrow/internal/daemon"
	"github.com/tutu-network/escrow/internal/domain"
)

var oracleCmd = &cobra.Command{
	Use:   "oracle",
	Short: "Inspect assertions and deliver verdicts as the oracle",
}

var (
	verdictTruth bool
	pendingLimit int
)

func init() {
	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List assertions waiting for a verdict",
		Args:  cobra.NoArgs,
		RunE:  runOraclePending,
	}
	pendingCmd.Flags().IntVar(&pendingLimit, "limit", 50, "Maximum assertions")

	showCmd := &cobra.Command{
		Use:   "show ASSERTION_ID",
		Short: "Show one assertion and its claim",
		Args:  cobra.ExactArgs(1),
		RunE:  runOracleShow,
	}
	resolveCmd := &cobra.Command{
		Use:   "resolve ASSERTION_ID",
		Short: "Deliver a verdict (signs with the oracle key unless --from is given)",
		Args:  cobra.ExactArgs(1),
		RunE:  runOracleResolve,
	}
	resolveCmd.Flags().BoolVar(&verdictTruth, "truth", false, "Whether the agent's claim holds")
	resolveCmd.MarkFlagRequired("truth")

	oracleCmd.AddCommand(pendingCmd, showCmd, resolveCmd)
	rootCmd.AddCommand(oracleCmd)
}

func runOraclePending(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	pending, err := d.Gateway.Pending(cmd.Context(), pendingLimit)
	if err != nil {
		return err
	}
	return printValue(pending, func(w io.Writer) error {
		if len(pending) == 0 {
			fmt.Fprintln(w, "No pending assertions.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ASSERTION\tTASK\tBOND\tOPENED")
		for _, a := range pending {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", a.ID, a.TaskID, a.Bond, a.CreatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	})
}

func runOracleShow(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	a, err := d.Gateway.Assertion(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if a == nil {
		return domain.ErrUnknownAssertion
	}
	return printValue(a, nil)
}

func runOracleResolve(cmd *cobra.Command, args []string) error {
	if !cmd.Flag("from").Changed {
		fromFlag = daemon.OracleKey
	}
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := cmd.Context()
	who, err := caller(ctx, d)
	if err != nil {
		return err
	}
	task, err := d.Gateway.OnVerdict(ctx, who, args[0], verdictTruth)
	if err != nil {
		return err
	}
	return printTask(task)
}
