package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send device path...",
	Short: "send files or folders to a device",
	Long:  `sends one or more files or folders to a device, found by name, id or peer address, as a single batch`,
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, paths := args[0], args[1:]

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		items, err := transfer.CollectItems(paths...)
		if err != nil {
			return err
		}
		var total int64
		for _, it := range items {
			total += it.Size
		}

		n, err := startNode(ctx, transfer.Handlers{})
		if err != nil {
			return err
		}
		defer n.Close()

		dev, err := waitForDevice(ctx, n, target)
		if err != nil {
			return err
		}

		bar := progressbar.NewOptions(100,
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription(fmt.Sprintf("to %s", dev.Name)),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
		)
		meter := transfer.NewMeter(total, nil)

		err = n.SendItems(ctx, dev.ID, items, func(p float64) {
			meter.Set(int64(p / 100 * float64(total)))
			bar.Describe(fmt.Sprintf("to %s (%s)", dev.Name, meter))
			_ = bar.Set(int(p))
		}, nil)
		_ = bar.Finish()

		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), transfer.StatusMessage(err))
		return err
	},
}
