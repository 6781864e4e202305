package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tutu-network/escrow/internal/domain"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Register and inspect m-of-n wallets",
}

var (
	walletThreshold int
	walletSalt      uint64
)

func init() {
	registerCmd := &cobra.Command{
		Use:   "register OWNER...",
		Short: "Register a wallet owned by the given addresses",
		Long: `Register a wallet owned by the given addresses.

The wallet address derives from owners, threshold and salt. Act as the
wallet with --as ADDRESS --from key1,key2.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runWalletRegister,
	}
	registerCmd.Flags().IntVar(&walletThreshold, "threshold", 1, "Signatures required")
	registerCmd.Flags().Uint64Var(&walletSalt, "salt", 0, "Salt distinguishing wallets with the same owners")

	showCmd := &cobra.Command{
		Use:   "show ADDRESS",
		Short: "Show a registered wallet",
		Args:  cobra.ExactArgs(1),
		RunE:  runWalletShow,
	}
	walletCmd.AddCommand(registerCmd, showCmd)
	rootCmd.AddCommand(walletCmd)
}

func runWalletRegister(cmd *cobra.Command, args []string) error {
	owners := make([]domain.Address, len(args))
	for i, a := range args {
		addr, err := domain.ParseAddress(a)
		if err != nil {
			return fmt.Errorf("owner %q: %w", a, err)
		}
		owners[i] = addr
	}
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	w, err := d.Engine.RegisterWallet(cmd.Context(), owners, walletThreshold, walletSalt)
	if err != nil {
		return err
	}
	return printWallet(w)
}

func runWalletShow(cmd *cobra.Command, args []string) error {
	addr, err := domain.ParseAddress(args[0])
	if err != nil {
		return err
	}
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	w, err := d.Engine.Wallet(cmd.Context(), addr)
	if err != nil {
		return err
	}
	if w == nil {
		return fmt.Errorf("no wallet registered at %s", addr)
	}
	return printWallet(*w)
}

func printWallet(w domain.Wallet) error {
	return printValue(w, func(out io.Writer) error {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Address:\t%s\n", w.Address)
		fmt.Fprintf(tw, "Threshold:\t%d of %d\n", w.Threshold, len(w.Owners))
		for _, o := range w.Owners {
			fmt.Fprintf(tw, "Owner:\t%s\n", o)
		}
		return tw.Flush()
	})
}
