package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/escrow/internal/daemon"
	"github.com/tutu-network/escrow/internal/domain"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change protocol parameters (owner only for changes)",
}

func init() {
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Write a default config.toml to $ESCROW_HOME",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := daemon.SaveConfig(daemon.DefaultConfig()); err != nil {
					return err
				}
				fmt.Fprintf(stdout, "Wrote %s/config.toml\n", daemon.EscrowHome())
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the current protocol parameters",
			Args:  cobra.NoArgs,
			RunE:  runConfigShow,
		},
		setter("set-cooldown DURATION", "Set the dispute cooldown period", 1,
			func(ctx context.Context, d *daemon.Daemon, who domain.Address, args []string) error {
				dur, err := time.ParseDuration(args[0])
				if err != nil {
					return err
				}
				return d.Registry.SetCooldownPeriod(ctx, who, dur)
			}),
		setter("set-response-window DURATION", "Set the agent response window", 1,
			func(ctx context.Context, d *daemon.Daemon, who domain.Address, args []string) error {
				dur, err := time.ParseDuration(args[0])
				if err != nil {
					return err
				}
				return d.Registry.SetAgentResponseWindow(ctx, who, dur)
			}),
		setter("set-dispute-bond BPS", "Set the client dispute bond in basis points", 1,
			func(ctx context.Context, d *daemon.Daemon, who domain.Address, args []string) error {
				bps, err := parseBps(args[0])
				if err != nil {
					return err
				}
				return d.Registry.SetDisputeBondBps(ctx, who, bps)
			}),
		setter("set-escalation-bond BPS", "Set the agent escalation bond in basis points", 1,
			func(ctx context.Context, d *daemon.Daemon, who domain.Address, args []string) error {
				bps, err := parseBps(args[0])
				if err != nil {
					return err
				}
				return d.Registry.SetEscalationBondBps(ctx, who, bps)
			}),
		setter("set-market-maker BPS ADDRESS", "Set the market maker fee and recipient", 2,
			func(ctx context.Context, d *daemon.Daemon, who domain.Address, args []string) error {
				bps, err := parseBps(args[0])
				if err != nil {
					return err
				}
				addr, err := domain.ParseAddress(args[1])
				if err != nil {
					return err
				}
				return d.Registry.SetMarketMakerFee(ctx, who, bps, addr)
			}),
		setter("set-oracle ADDRESS LIVENESS MIN_BOND", "Set the oracle identity, liveness and minimum bond", 3,
			func(ctx context.Context, d *daemon.Daemon, who domain.Address, args []string) error {
				addr, err := domain.ParseAddress(args[0])
				if err != nil {
					return err
				}
				liveness, err := time.ParseDuration(args[1])
				if err != nil {
					return err
				}
				minBond, err := parseAmount(args[2])
				if err != nil {
					return err
				}
				return d.Registry.SetOracle(ctx, who, addr, liveness, minBond)
			}),
		setter("add-token ADDRESS", "Whitelist a token", 1,
			func(ctx context.Context, d *daemon.Daemon, who domain.Address, args []string) error {
				addr, err := domain.ParseAddress(args[0])
				if err != nil {
					return err
				}
				return d.Registry.AddToken(ctx, who, addr)
			}),
		setter("remove-token ADDRESS", "Remove a token from the whitelist", 1,
			func(ctx context.Context, d *daemon.Daemon, who domain.Address, args []string) error {
				addr, err := domain.ParseAddress(args[0])
				if err != nil {
					return err
				}
				return d.Registry.RemoveToken(ctx, who, addr)
			}),
		setter("transfer-ownership ADDRESS", "Hand the registry to a new owner", 1,
			func(ctx context.Context, d *daemon.Daemon, who domain.Address, args []string) error {
				addr, err := domain.ParseAddress(args[0])
				if err != nil {
					return err
				}
				return d.Registry.TransferOwnership(ctx, who, addr)
			}),
	)
	rootCmd.AddCommand(configCmd)
}

type setFunc func(ctx context.Context, d *daemon.Daemon, who domain.Address, args []string) error

// setter builds a registry setter command that prints the new config.
func setter(use, short string, nargs int, fn setFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			if err := fn(ctx, d, who, args); err != nil {
				return err
			}
			return showConfig(ctx, d)
		},
	}
}

func parseBps(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid basis points %q", s)
	}
	return uint32(n), nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	return showConfig(cmd.Context(), d)
}

func showConfig(ctx context.Context, d *daemon.Daemon) error {
	cfg, err := d.Registry.Config(ctx)
	if err != nil {
		return err
	}
	return printValue(cfg, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Owner:\t%s\n", cfg.Owner)
		fmt.Fprintf(tw, "Cooldown period:\t%s\n", cfg.CooldownPeriod)
		fmt.Fprintf(tw, "Agent response window:\t%s\n", cfg.AgentResponseWindow)
		fmt.Fprintf(tw, "Dispute bond:\t%d bps\n", cfg.DisputeBondBps)
		fmt.Fprintf(tw, "Escalation bond:\t%d bps\n", cfg.EscalationBondBps)
		fmt.Fprintf(tw, "Market maker fee:\t%d bps to %s\n", cfg.MarketMakerFeeBps, cfg.MarketMakerAddress)
		fmt.Fprintf(tw, "Oracle:\t%s (liveness %s, min bond %s)\n", cfg.OracleAddress, cfg.OracleLiveness, cfg.OracleMinimumBond)
		for _, tok := range cfg.AllowedTokens {
			fmt.Fprintf(tw, "Allowed token:\t%s\n", tok)
		}
		return tw.Flush()
	})
}
