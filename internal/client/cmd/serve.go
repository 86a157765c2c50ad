package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peer-drop/internal/tracker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var publicURL string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the presence server",
	Long:  `runs the presence server: device registry, signaling relay and health endpoints`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := tracker.NewServer(tracker.Config{
			Addr:       cfg.ListenAddr,
			PublicURL:  publicURL,
			PurgeGrace: cfg.PurgeGrace,
			Logger:     log,
		})
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Start(gctx)
		})

		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&publicURL, "public-url", "", "base URL advertised to devices (default: derived from requests)")
}
