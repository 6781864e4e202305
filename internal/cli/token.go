package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tutu-network/escrow/internal/domain"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint, send and inspect ledger balances",
}

var historyLimit int

func init() {
	mintCmd := &cobra.Command{
		Use:   "mint TOKEN TO AMOUNT",
		Short: "Mint tokens into an account (owner only)",
		Args:  cobra.ExactArgs(3),
		RunE:  runMint,
	}
	sendCmd := &cobra.Command{
		Use:   "send TOKEN TO AMOUNT",
		Short: "Send tokens from the caller",
		Args:  cobra.ExactArgs(3),
		RunE:  runSend,
	}
	balanceCmd := &cobra.Command{
		Use:   "balance [ACCOUNT]",
		Short: "Show balances of an address, escrow or system_pool",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBalance,
	}
	historyCmd := &cobra.Command{
		Use:   "history [ACCOUNT]",
		Short: "Show ledger entries of an account, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum entries")

	tokenCmd.AddCommand(mintCmd, sendCmd, balanceCmd, historyCmd)
	rootCmd.AddCommand(tokenCmd)
}

type transferArgs struct {
	token, to domain.Address
	amount    string
}

func parseTransfer(args []string) (transferArgs, error) {
	token, err := domain.ParseAddress(args[0])
	if err != nil {
		return transferArgs{}, fmt.Errorf("token: %w", err)
	}
	to, err := domain.ParseAddress(args[1])
	if err != nil {
		return transferArgs{}, fmt.Errorf("recipient: %w", err)
	}
	return transferArgs{token: token, to: to, amount: args[2]}, nil
}

func runMint(cmd *cobra.Command, args []string) error {
	return transfer(cmd, args, true)
}

func runSend(cmd *cobra.Command, args []string) error {
	return transfer(cmd, args, false)
}

func transfer(cmd *cobra.Command, args []string, mint bool) error {
	ta, err := parseTransfer(args)
	if err != nil {
		return err
	}
	amount, err := parseAmount(ta.amount)
	if err != nil {
		return err
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
	if mint {
		err = d.Vault.Mint(ctx, who, ta.token, ta.to, amount)
	} else {
		err = d.Vault.Send(ctx, who, ta.token, ta.to, amount)
	}
	if err != nil {
		return err
	}
	bal, err := d.Vault.Balance(ctx, ta.token, ta.to.String())
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s now holds %s of %s\n", ta.to, bal, ta.token)
	return nil
}

// accountArg resolves an optional ACCOUNT argument, defaulting to the caller.
func accountArg(args []string, who func() (domain.Address, error)) (string, error) {
	if len(args) == 1 {
		if args[0] == domain.AccountEscrow || args[0] == domain.AccountSystemPool {
			return args[0], nil
		}
		addr, err := domain.ParseAddress(args[0])
		if err != nil {
			return "", err
		}
		return addr.String(), nil
	}
	addr, err := who()
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

func runBalance(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	ctx := cmd.Context()

	acct, err := accountArg(args, func() (domain.Address, error) { return caller(ctx, d) })
	if err != nil {
		return err
	}
	balances, err := d.Vault.Balances(ctx, acct)
	if err != nil {
		return err
	}
	return printValue(balances, func(w io.Writer) error {
		if len(balances) == 0 {
			fmt.Fprintf(w, "%s holds nothing.\n", acct)
			return nil
		}
		tokens := make([]domain.Address, 0, len(balances))
		for tok := range balances {
			tokens = append(tokens, tok)
		}
		sort.Slice(tokens, func(i, j int) bool { return tokens[i].String() < tokens[j].String() })

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TOKEN\tBALANCE")
		for _, tok := range tokens {
			fmt.Fprintf(tw, "%s\t%s\n", tok, balances[tok])
		}
		return tw.Flush()
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	ctx := cmd.Context()

	acct, err := accountArg(args, func() (domain.Address, error) { return caller(ctx, d) })
	if err != nil {
		return err
	}
	entries, err := d.Vault.History(ctx, acct, historyLimit)
	if err != nil {
		return err
	}
	return printValue(entries, nil)
}
