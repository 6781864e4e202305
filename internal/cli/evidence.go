package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Store and fetch content-addressed evidence",
}

var evidenceOut string

func init() {
	putCmd := &cobra.Command{
		Use:   "put FILE",
		Short: "Store a file and print its evidence URI (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvidencePut,
	}
	getCmd := &cobra.Command{
		Use:   "get URI",
		Short: "Fetch evidence by URI, verifying its hash",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvidenceGet,
	}
	getCmd.Flags().StringVar(&evidenceOut, "out", "", "Write to this file instead of stdout")

	evidenceCmd.AddCommand(putCmd, getCmd)
	rootCmd.AddCommand(evidenceCmd)
}

func runEvidencePut(cmd *cobra.Command, args []string) error {
	var (
		content []byte
		err     error
	)
	if args[0] == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
	} else {
		content, err = os.ReadFile(args[0])
	}
	if err != nil {
		return err
	}

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	uri, err := d.Evidence.Store(cmd.Context(), content)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, uri)
	return nil
}

func runEvidenceGet(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	content, err := d.Evidence.Fetch(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if evidenceOut != "" {
		return os.WriteFile(evidenceOut, content, 0644)
	}
	_, err = stdout.Write(content)
	return err
}
