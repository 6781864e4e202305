package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tutu-network/escrow/internal/daemon"
	"github.com/tutu-network/escrow/internal/security"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage signing keys in $ESCROW_HOME/keys",
}

func init() {
	keyCmd.AddCommand(
		&cobra.Command{
			Use:   "show [NAME]",
			Short: "Print a key's address, creating the key on first use",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name := fromFlag
				if len(args) == 1 {
					name = args[0]
				}
				kp, err := security.LoadOrCreateKeypair(daemon.EscrowHome(), name)
				if err != nil {
					return err
				}
				fmt.Fprintln(stdout, kp.Address())
				return nil
			},
		},
		&cobra.Command{
			Use:   "import NAME PRIVATE_KEY_HEX",
			Short: "Store an existing secp256k1 private key under NAME",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				kp, err := security.KeypairFromHex(args[1])
				if err != nil {
					return err
				}
				dir := filepath.Join(daemon.EscrowHome(), "keys")
				path := filepath.Join(dir, args[0]+".key")
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("key %q already exists", args[0])
				}
				if err := os.MkdirAll(dir, 0700); err != nil {
					return err
				}
				if err := os.WriteFile(path, []byte(kp.PrivateKeyHex()), 0600); err != nil {
					return err
				}
				fmt.Fprintln(stdout, kp.Address())
				return nil
			},
		},
	)
	rootCmd.AddCommand(keyCmd)
}
