package node

import (
	"github.com/rudransh-shrivastava/peer-drop/internal/config"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport/webrtc"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Options struct {
	Config *config.Config

	// Listener opens the data-channel endpoint. Defaults to WebRTC data
	// channels signaled through the presence server.
	Listener transport.Listener
	// DB holds the local identity. Defaults to the sqlite file under the
	// data directory; a DB passed in is not closed by the node.
	DB *gorm.DB
	// Saver defaults to a DirSaver on the download directory.
	Saver    transfer.Saver
	Handlers transfer.Handlers
	Logger   logrus.FieldLogger
}

func (o *Options) setDefaults(log logrus.FieldLogger) {
	cfg := o.Config
	if o.Listener == nil {
		o.Listener = &webrtc.Listener{
			ServerURL:   cfg.ServerURL,
			STUNServers: cfg.STUNServers,
			Logger:      log.WithField("component", "webrtc"),
		}
	}
	if o.Saver == nil {
		o.Saver = &transfer.DirSaver{Dir: cfg.DownloadDir, Logger: log}
	}
}

func (o *Options) transferOptions(log logrus.FieldLogger) transfer.Options {
	cfg := o.Config
	return transfer.Options{
		ChunkSize:    cfg.ChunkSize,
		MaxItemSize:  cfg.MaxItemSize,
		ChunkTimeout: cfg.ChunkTimeout,
		ResetDelay:   cfg.ResetDelay,
		Logger:       log,
	}
}
