package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errPresenceLost = errors.New("lost connection to the presence server")

// batchBars renders one progress bar per sending peer.
type batchBars struct {
	out io.Writer

	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

func (b *batchBars) handlers() transfer.Handlers {
	return transfer.Handlers{
		OnBatchStart: func(peer string, batch *transfer.Batch) {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.bars[peer] = progressbar.NewOptions(100,
				progressbar.OptionSetWriter(b.out),
				progressbar.OptionSetDescription(fmt.Sprintf("%d file(s) from %s", batch.TotalFiles, peer)),
				progressbar.OptionSetWidth(30),
				progressbar.OptionShowCount(),
			)
		},
		OnBatchProgress: func(peer string, percent float64) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if bar := b.bars[peer]; bar != nil {
				_ = bar.Set(int(percent))
			}
		},
		OnBatchEnd: func(peer string, _ *transfer.Batch, saved []string, _ bool) {
			b.finish(peer)
			for _, p := range saved {
				fmt.Fprintf(b.out, "saved %s\n", p)
			}
		},
		OnError: func(peer string, err error) {
			b.finish(peer)
			fmt.Fprintln(b.out, transfer.StatusMessage(err))
		},
	}
}

func (b *batchBars) finish(peer string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bar := b.bars[peer]; bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(b.out)
		delete(b.bars, peer)
	}
}

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "stay online and receive files",
	Long:  `keeps this device online and saves incoming batches to the download directory until interrupted`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		bars := &batchBars{out: cmd.ErrOrStderr(), bars: make(map[string]*progressbar.ProgressBar)}
		n, err := startNode(ctx, bars.handlers())
		if err != nil {
			return err
		}
		defer n.Close()

		dev := n.Device()
		fmt.Fprintf(cmd.OutOrStdout(), "%s is online as %s, saving to %s\n", dev.Name, dev.PeerAddress, cfg.DownloadDir)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			select {
			case <-n.Disconnected():
				return errPresenceLost
			case <-gctx.Done():
				return nil
			}
		})
		return g.Wait()
	},
}
