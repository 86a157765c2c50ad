package cmd

import (
	"fmt"

	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/spf13/cobra"
)

var renameCmd = &cobra.Command{
	Use:   "rename new-name",
	Short: "change the name other devices see",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := startNode(cmd.Context(), transfer.Handlers{})
		if err != nil {
			return err
		}
		defer n.Close()

		if err := n.Rename(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "renamed to %s\n", args[0])
		return nil
	},
}
