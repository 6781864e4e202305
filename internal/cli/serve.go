package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoKeeper, "no-keeper", false, "Do not run the settlement keeper")
	rootCmd.AddCommand(serveCmd, sweepCmd, statusCmd)
}

var (
	serveHost     string
	servePort     int
	serveNoKeeper bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the escrow node API",
	Long:  `Start the escrow node API at localhost:8545, with the keeper and health checks.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		d.Config.API.Host = serveHost
	}
	if servePort > 0 {
		d.Config.API.Port = servePort
	}
	if serveNoKeeper {
		d.Config.Keeper.Enabled = false
	}

	return d.Serve(cmd.Context())
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Settle every task whose cooldown or response window has lapsed, once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		rep, err := d.Keeper.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		return printValue(rep, func(w io.Writer) error {
			fmt.Fprintf(w, "Settled: %v\nConceded: %v\nSkipped: %d\nFailed: %d\n",
				rep.Settled, rep.Conceded, rep.Skipped, rep.Failed)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Run the node health checks once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		statuses := d.Health.RunOnce(cmd.Context())
		return printValue(statuses, func(w io.Writer) error {
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CHECK\tHEALTHY\tERROR")
			for _, s := range statuses {
				fmt.Fprintf(tw, "%s\t%t\t%s\n", s.Name, s.Healthy, s.Error)
			}
			return tw.Flush()
		})
	},
}
