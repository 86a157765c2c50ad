package cmd

import (
	"os"

	"github.com/rudransh-shrivastava/peer-drop/internal/config"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flags *config.Flags
	cfg   *config.Config
	log   *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:          `peer-drop`,
	Short:        `send files and folders straight to nearby devices`,
	Long:         `peer-drop lets devices on a shared network find each other through a presence server and send files and folders directly, peer to peer`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := flags.Resolve()
		if err != nil {
			return err
		}
		cfg = c

		log = logger.NewLogger()
		return logger.SetLevel(log, cfg.LogLevel)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags = config.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(renameCmd)
}
