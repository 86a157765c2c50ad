package cmd

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/node"
	"github.com/rudransh-shrivastava/peer-drop/internal/presence"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
)

const (
	startTimeout  = 30 * time.Second
	lookupTimeout = 10 * time.Second
)

func startNode(ctx context.Context, handlers transfer.Handlers) (*node.Node, error) {
	n, err := node.New(node.Options{
		Config:   cfg,
		Handlers: handlers,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := n.Start(startCtx); err != nil {
		return nil, err
	}
	return n, nil
}

// waitForDevice resolves query once the presence list names an online
// device with a peer address, or gives up after lookupTimeout.
func waitForDevice(ctx context.Context, n *node.Node, query string) (presence.DeviceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		dev, err := n.Resolve(query)
		if err == nil && dev.Online && dev.PeerAddress != "" {
			return dev, nil
		}

		select {
		case <-ctx.Done():
			if err == nil {
				err = node.ErrDeviceUnavailable
			}
			return presence.DeviceRecord{}, err
		case <-ticker.C:
		}
	}
}
