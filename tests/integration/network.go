package integration

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/config"
	"github.com/rudransh-shrivastava/peer-drop/internal/node"
	"github.com/rudransh-shrivastava/peer-drop/internal/tracker"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport/memory"
	"github.com/sirupsen/logrus"
)

// Network is a presence server plus any number of devices whose data
// channels run over an in-process network.
type Network struct {
	server *tracker.Server
	links  *memory.Network
	nodes  []*node.Node
	cancel context.CancelFunc
	ctx    context.Context
	t      *testing.T
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func NewNetwork(t *testing.T, purgeGrace time.Duration) *Network {
	t.Helper()

	srv, err := tracker.NewServer(tracker.Config{
		Addr:       "127.0.0.1:0",
		PurgeGrace: purgeGrace,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("Failed to create presence server: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	go func() {
		_ = srv.Start(ctx)
	}()

	n := &Network{
		server: srv,
		links:  memory.NewNetwork(),
		cancel: cancel,
		ctx:    ctx,
		t:      t,
	}
	t.Cleanup(n.Close)
	return n
}

func (n *Network) Config(name, dataDir string) *config.Config {
	cfg := config.Default()
	cfg.ServerURL = "http://" + n.server.Addr()
	cfg.DataDir = dataDir
	cfg.DownloadDir = filepath.Join(dataDir, "downloads")
	cfg.DeviceName = name
	cfg.ChunkSize = 4096
	cfg.ResetDelay = 0
	cfg.IdentityBackoff = time.Millisecond
	return cfg
}

// NewDevice starts a device with its own data directory.
func (n *Network) NewDevice(name string, handlers transfer.Handlers) *node.Node {
	n.t.Helper()
	return n.StartDevice(n.Config(name, n.t.TempDir()), handlers)
}

func (n *Network) StartDevice(cfg *config.Config, handlers transfer.Handlers) *node.Node {
	n.t.Helper()

	dev, err := node.New(node.Options{
		Config:   cfg,
		Listener: n.links,
		Handlers: handlers,
		Logger:   quietLogger(),
	})
	if err != nil {
		n.t.Fatalf("Failed to create device: %v", err)
	}
	if err := dev.Start(n.ctx); err != nil {
		n.t.Fatalf("Failed to start device %s: %v", cfg.DeviceName, err)
	}

	n.nodes = append(n.nodes, dev)
	return dev
}

func (n *Network) Context() context.Context {
	return n.ctx
}

func (n *Network) Server() *tracker.Server {
	return n.server
}

func (n *Network) Close() {
	for _, d := range n.nodes {
		_ = d.Close()
	}
	n.nodes = nil
	n.cancel()
	_ = n.server.Shutdown()
}
