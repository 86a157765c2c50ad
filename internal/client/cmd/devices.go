package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/presence"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/spf13/cobra"
)

const firstListWait = 2 * time.Second

var watchDevices bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "list devices known to the presence server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		n, err := startNode(ctx, transfer.Handlers{})
		if err != nil {
			return err
		}
		defer n.Close()

		select {
		case <-n.Updates():
		case <-time.After(firstListWait):
		case <-ctx.Done():
			return nil
		}
		printDevices(cmd.OutOrStdout(), n.Devices())

		if !watchDevices {
			return nil
		}
		for {
			select {
			case <-n.Updates():
				fmt.Fprintln(cmd.OutOrStdout())
				printDevices(cmd.OutOrStdout(), n.Devices())
			case <-n.Disconnected():
				return errPresenceLost
			case <-ctx.Done():
				return nil
			}
		}
	},
}

func printDevices(out io.Writer, devices []presence.DeviceRecord) {
	if len(devices) == 0 {
		fmt.Fprintln(out, "no other devices")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tSTATUS\tID")
	for _, d := range devices {
		status := "online"
		if !d.Online {
			status = "offline, seen " + humanize.Time(d.LastSeen)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.DeviceType, status, d.ID)
	}
	_ = tw.Flush()
}

func init() {
	devicesCmd.Flags().BoolVarP(&watchDevices, "watch", "w", false, "keep printing the list as it changes")
}
