package cmd

import (
	"fmt"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "show this device's stored identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := db.Open(cfg.IdentityDBPath())
		if err != nil {
			return err
		}
		defer db.Close(gdb)

		ids := store.NewIdentityStore(gdb)
		dev, found, err := ids.Device(cmd.Context())
		if err != nil {
			return err
		}
		if !found || dev.DeviceID == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "this device has not registered yet")
			return nil
		}

		fmt.Fprintf(cmd.OutOrStdout(), "name:  %s\ntype:  %s\nid:    %s\npeer:  %s\n",
			dev.Name, dev.DeviceType, dev.DeviceID, dev.PeerAddress)
		return nil
	},
}
