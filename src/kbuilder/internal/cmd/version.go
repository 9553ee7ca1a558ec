package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bitswalk/kbuilder/src/kbuilder/internal/output"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func runVersion(cmd *cobra.Command, args []string) error {
	handled, err := output.Print(cmd.OutOrStdout(), getOutputFormat(), VersionInfo)
	if handled || err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), VersionInfo.Full())
	return nil
}
