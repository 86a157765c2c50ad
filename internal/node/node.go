// Package node runs one device: it registers with the presence service,
// keeps its peer endpoint open, receives incoming batches and sends batches
// to other devices.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/rudransh-shrivastava/peer-drop/internal/presence"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxPresenceBackoff = 30 * time.Second

var (
	ErrUnknownDevice     = errors.New("no such device")
	ErrAmbiguousDevice   = errors.New("more than one device matches")
	ErrDeviceUnavailable = errors.New("device is offline or has no peer address")
)

type Node struct {
	opts   Options
	logger logrus.FieldLogger

	db       *gorm.DB
	ownsDB   bool
	identity *store.IdentityStore
	peers    *peer.Manager
	channel  *peer.Channel
	sender   *transfer.Sender
	receiver *transfer.Receiver

	updates      chan []presence.DeviceRecord
	disconnected chan struct{}
	disconnect   sync.Once

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	device   presence.DeviceRecord
	presence *presence.Client
}

func New(opts Options) (*Node, error) {
	if opts.Config == nil {
		return nil, errors.New("node: config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	opts.setDefaults(log)

	tOpts := opts.transferOptions(log.WithField("component", "transfer"))
	return &Node{
		opts:         opts,
		logger:       log,
		sender:       transfer.NewSender(tOpts),
		receiver:     transfer.NewReceiver(tOpts, opts.Saver, opts.Handlers),
		updates:      make(chan []presence.DeviceRecord, 1),
		disconnected: make(chan struct{}),
	}, nil
}

// Start brings the device online. On failure everything opened so far is
// released.
func (n *Node) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			_ = n.Close()
		}
	}()

	cfg := n.opts.Config

	n.db = n.opts.DB
	if n.db == nil {
		n.db, err = db.Open(cfg.IdentityDBPath())
		if err != nil {
			return err
		}
		n.ownsDB = true
	}
	n.identity = store.NewIdentityStore(n.db)

	n.peers = peer.NewManager(peer.Config{
		Listener:       n.opts.Listener,
		Store:          n.identity,
		Logger:         n.logger.WithField("component", "peer"),
		RetryBound:     cfg.IdentityRetries,
		RetryBackoff:   cfg.IdentityBackoff,
		OpenTimeout:    cfg.OpenTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
	})

	addr, err := n.peers.EnsureLocalIdentity(ctx)
	if err != nil {
		return err
	}
	n.channel, err = n.peers.Open(ctx, addr)
	if err != nil {
		return err
	}

	client, err := presence.Dial(ctx, cfg.ServerURL, n.logger.WithField("component", "presence"))
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.presence = client
	n.mu.Unlock()
	if err := n.announce(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.wg.Add(2)
	go n.acceptLoop(runCtx, n.channel)
	go n.presenceLoop(runCtx, n.channel.Address())

	n.logger.WithFields(logrus.Fields{
		"device": n.Device().ID,
		"name":   n.Device().Name,
		"peer":   n.channel.Address(),
	}).Info("Device online")
	return nil
}

// announce registers the device, or reconnects under the stored id, and
// publishes the current peer address.
func (n *Node) announce(ctx context.Context) error {
	cfg := n.opts.Config

	stored, found, err := n.identity.Device(ctx)
	if err != nil {
		return err
	}

	name := cfg.DeviceName
	if name == "" && found {
		name = stored.Name
	}
	if name == "" {
		name = defaultDeviceName()
	}
	deviceType := presence.DeviceType(cfg.DeviceType)
	if deviceType == "" && found {
		deviceType = presence.DeviceType(stored.DeviceType)
	}

	var rec presence.DeviceRecord
	if found && stored.DeviceID != "" {
		rec, err = n.presenceClient().Reconnect(ctx, presence.ReconnectPayload{
			ID:          stored.DeviceID,
			Name:        name,
			DeviceType:  deviceType,
			PeerAddress: n.channel.Address(),
		})
		if err != nil {
			return fmt.Errorf("failed to reconnect: %w", err)
		}
	} else {
		rec, err = n.presenceClient().Register(ctx, name, deviceType)
		if err != nil {
			return fmt.Errorf("failed to register: %w", err)
		}
		if err := n.presenceClient().UpdatePeerAddress(ctx, rec.ID, n.channel.Address()); err != nil {
			return fmt.Errorf("failed to publish peer address: %w", err)
		}
		rec.PeerAddress = n.channel.Address()
	}

	if err := n.identity.SaveDevice(ctx, rec.ID, rec.Name, string(rec.DeviceType)); err != nil {
		return err
	}

	n.mu.Lock()
	n.device = rec
	n.mu.Unlock()
	return nil
}

// presenceLoop forwards presence lists and, when the connection drops,
// redials and reclaims the device's record under its id and peerAddress.
func (n *Node) presenceLoop(ctx context.Context, peerAddress string) {
	defer n.wg.Done()

	for {
		client := n.presenceClient()
		select {
		case <-ctx.Done():
			return
		case list := <-client.Updates():
			n.publish(list)
		case <-client.Done():
			if ctx.Err() != nil {
				return
			}
			n.logger.Warn("Presence connection lost, reconnecting")
			if err := n.redial(ctx, peerAddress); err != nil {
				if ctx.Err() == nil {
					n.logger.WithError(err).Error("Giving up on the presence service")
					n.markDisconnected()
				}
				return
			}
		}
	}
}

func (n *Node) redial(ctx context.Context, peerAddress string) error {
	cfg := n.opts.Config
	backoff := retry.WithMaxRetries(uint64(cfg.PresenceRetries),
		retry.WithCappedDuration(maxPresenceBackoff, retry.NewExponential(cfg.PresenceBackoff)))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()

		client, err := presence.Dial(dialCtx, cfg.ServerURL, n.logger.WithField("component", "presence"))
		if err != nil {
			n.logger.WithError(err).WithField("attempt", attempt).Debug("Presence redial failed")
			return retry.RetryableError(err)
		}

		dev := n.Device()
		rec, err := client.Reconnect(dialCtx, presence.ReconnectPayload{
			ID:          dev.ID,
			Name:        dev.Name,
			DeviceType:  dev.DeviceType,
			PeerAddress: peerAddress,
		})
		if err != nil {
			_ = client.Close()
			return retry.RetryableError(fmt.Errorf("failed to reconnect: %w", err))
		}

		n.mu.Lock()
		old := n.presence
		n.presence = client
		n.device = rec
		n.mu.Unlock()
		_ = old.Close()

		n.logger.WithFields(logrus.Fields{"device": rec.ID, "attempt": attempt}).Info("Presence connection restored")
		return nil
	})
}

// publish hands list to Updates, replacing a list nobody has read yet.
func (n *Node) publish(list []presence.DeviceRecord) {
	select {
	case <-n.updates:
	default:
	}
	select {
	case n.updates <- list:
	default:
	}
}

func (n *Node) markDisconnected() {
	n.disconnect.Do(func() { close(n.disconnected) })
}

func (n *Node) presenceClient() *presence.Client {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.presence
}

func (n *Node) acceptLoop(ctx context.Context, ch *peer.Channel) {
	defer n.wg.Done()

	for conn := range n.peers.Accept(ch) {
		n.wg.Add(1)
		go func(conn transport.Conn) {
			defer n.wg.Done()
			defer conn.Close()

			err := n.receiver.Serve(ctx, conn)
			if err != nil && !errors.Is(err, context.Canceled) {
				n.logger.WithError(err).WithField("peer", conn.PeerID()).Warn(transfer.StatusMessage(err))
			}
		}(conn)
	}
}

// Device is this device's presence record.
func (n *Node) Device() presence.DeviceRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.device
}

// Devices lists the other known devices.
func (n *Node) Devices() []presence.DeviceRecord {
	self := n.Device().ID
	var out []presence.DeviceRecord
	for _, d := range n.presenceClient().Devices() {
		if d.ID != self {
			out = append(out, d)
		}
	}
	return out
}

// Updates yields presence lists as the server broadcasts them, across
// reconnects. Slow readers only see the latest list.
func (n *Node) Updates() <-chan []presence.DeviceRecord {
	return n.updates
}

// Disconnected is closed once the presence service is given up on, after
// the redials run out, or when the node is closed.
func (n *Node) Disconnected() <-chan struct{} {
	return n.disconnected
}

// Resolve finds another device by id, peer address or case-insensitive name.
func (n *Node) Resolve(query string) (presence.DeviceRecord, error) {
	var matches []presence.DeviceRecord
	for _, d := range n.Devices() {
		if d.ID == query || (d.PeerAddress != "" && d.PeerAddress == query) {
			return d, nil
		}
		if strings.EqualFold(d.Name, query) {
			matches = append(matches, d)
		}
	}

	switch len(matches) {
	case 0:
		return presence.DeviceRecord{}, fmt.Errorf("%w: %s", ErrUnknownDevice, query)
	case 1:
		return matches[0], nil
	default:
		online := matches[:0]
		for _, d := range matches {
			if d.Online {
				online = append(online, d)
			}
		}
		if len(online) == 1 {
			return online[0], nil
		}
		return presence.DeviceRecord{}, fmt.Errorf("%w: %s", ErrAmbiguousDevice, query)
	}
}

// Send transfers paths to the device matching target as one batch.
func (n *Node) Send(ctx context.Context, target string, paths []string, onProgress func(float64), onStatus func(transfer.State)) error {
	items, err := transfer.CollectItems(paths...)
	if err != nil {
		return err
	}
	return n.SendItems(ctx, target, items, onProgress, onStatus)
}

func (n *Node) SendItems(ctx context.Context, target string, items []transfer.Item, onProgress func(float64), onStatus func(transfer.State)) error {
	dev, err := n.Resolve(target)
	if err != nil {
		return err
	}
	if !dev.Online || dev.PeerAddress == "" {
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, dev.Name)
	}

	conn, err := n.peers.Connect(ctx, n.channel, dev.PeerAddress, n.opts.Config.ConnectTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	n.logger.WithFields(logrus.Fields{"device": dev.Name, "items": len(items)}).Info("Sending")
	return n.sender.SendBatch(ctx, conn, items, onProgress, onStatus)
}

// Rename changes the device name on the server and locally.
func (n *Node) Rename(ctx context.Context, name string) error {
	dev := n.Device()
	if err := n.presenceClient().UpdateName(ctx, dev.ID, name); err != nil {
		return err
	}
	if err := n.identity.SaveDevice(ctx, dev.ID, name, string(dev.DeviceType)); err != nil {
		return err
	}

	n.mu.Lock()
	n.device.Name = name
	n.mu.Unlock()
	return nil
}

// Sessions lists the incoming transfers in progress.
func (n *Node) Sessions() []transfer.SessionInfo {
	return n.receiver.Sessions()
}

func (n *Node) Close() error {
	var errs []error

	if n.cancel != nil {
		n.cancel()
	}
	if n.channel != nil {
		errs = append(errs, n.peers.Close(n.channel))
		n.channel = nil
	}
	n.wg.Wait()
	n.markDisconnected()

	if client := n.presenceClient(); client != nil {
		errs = append(errs, client.Close())
	}
	if n.ownsDB && n.db != nil {
		errs = append(errs, db.Close(n.db))
		n.ownsDB = false
	}
	return errors.Join(errs...)
}

func defaultDeviceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "peer-drop device"
	}
	return host
}
