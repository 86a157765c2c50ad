// Package peer owns the local peer address and the direct channels opened
// to, or accepted from, other devices.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

var (
	ErrIdentityExhausted = errors.New("no free peer address after retries")
	ErrConnectFailed     = errors.New("connection failed")
	ErrTimeout           = errors.New("connection timed out")
	ErrInvalidAddress    = transport.ErrInvalidAddress
)

type Manager struct {
	config Config
	logger logrus.FieldLogger
}

func NewManager(cfg Config) *Manager {
	cfg.setDefaults()

	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	return &Manager{
		config: cfg,
		logger: log,
	}
}

// EnsureLocalIdentity returns the persisted peer address, creating and
// persisting one on first use.
func (m *Manager) EnsureLocalIdentity(ctx context.Context) (string, error) {
	addr, err := m.config.Store.PeerAddress(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load peer address: %w", err)
	}
	if transport.ValidAddress(addr) {
		return addr, nil
	}
	if addr != "" {
		m.logger.WithField("peer", addr).Warn("Discarding malformed stored peer address")
	}

	addr, err = m.config.GenerateAddress()
	if err != nil {
		return "", fmt.Errorf("failed to generate peer address: %w", err)
	}
	if err := m.config.Store.SavePeerAddress(ctx, addr); err != nil {
		return "", fmt.Errorf("failed to persist peer address: %w", err)
	}

	m.logger.WithField("peer", addr).Info("Generated local peer address")
	return addr, nil
}

// Open binds identity on the data-channel transport. When the address is
// taken a new one is generated, up to the configured bound; the address that
// succeeds is persisted.
func (m *Manager) Open(ctx context.Context, identity string) (*Channel, error) {
	if !transport.ValidAddress(identity) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, identity)
	}

	addr := identity
	attempt := 0
	var tr transport.Transport

	backoff := retry.WithMaxRetries(uint64(m.config.RetryBound-1), retry.NewConstant(m.config.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			next, err := m.config.GenerateAddress()
			if err != nil {
				return err
			}
			addr = next
		}

		openCtx, cancel := context.WithTimeout(ctx, m.config.OpenTimeout)
		defer cancel()

		t, err := m.config.Listener.Listen(openCtx, addr)
		if errors.Is(err, transport.ErrAddressInUse) {
			m.logger.WithFields(logrus.Fields{"peer": addr, "attempt": attempt}).Warn("Peer address in use")
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		tr = t
		return nil
	})
	if errors.Is(err, transport.ErrAddressInUse) {
		return nil, fmt.Errorf("%w: tried %d addresses", ErrIdentityExhausted, attempt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open peer endpoint: %w", err)
	}

	if err := m.config.Store.SavePeerAddress(ctx, addr); err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("failed to persist peer address: %w", err)
	}

	m.logger.WithField("peer", addr).Info("Peer endpoint open")
	return newChannel(addr, tr), nil
}

// Connect opens a channel to target. A zero timeout uses the configured
// connect timeout.
func (m *Manager) Connect(ctx context.Context, ch *Channel, target string, timeout time.Duration) (transport.Conn, error) {
	if !transport.ValidAddress(target) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, target)
	}
	if timeout <= 0 {
		timeout = m.config.ConnectTimeout
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m.logger.WithFields(logrus.Fields{"peer": target, "timeout": timeout}).Info("Connecting to peer")

	conn, err := ch.transport.Connect(cctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, target, timeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	tracked, ok := ch.track(conn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, transport.ErrClosed)
	}
	return tracked, nil
}

func (m *Manager) Accept(ch *Channel) <-chan transport.Conn {
	return ch.accepted
}

func (m *Manager) Close(ch *Channel) error {
	m.logger.WithField("peer", ch.address).Info("Closing peer endpoint")
	return ch.close()
}

// Channel is an open local endpoint and the connections made through it.
type Channel struct {
	address   string
	transport transport.Transport
	accepted  chan transport.Conn
	done      chan struct{}

	mu     sync.Mutex
	conns  map[*trackedConn]struct{}
	closed bool
}

func newChannel(addr string, tr transport.Transport) *Channel {
	ch := &Channel{
		address:   addr,
		transport: tr,
		accepted:  make(chan transport.Conn),
		done:      make(chan struct{}),
		conns:     make(map[*trackedConn]struct{}),
	}
	go ch.acceptLoop()
	return ch
}

func (c *Channel) Address() string {
	return c.address
}

func (c *Channel) acceptLoop() {
	defer close(c.accepted)

	for conn := range c.transport.Accept() {
		tracked, ok := c.track(conn)
		if !ok {
			_ = conn.Close()
			return
		}
		select {
		case c.accepted <- tracked:
		case <-c.done:
			_ = tracked.Close()
			return
		}
	}
}

func (c *Channel) track(conn transport.Conn) (transport.Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false
	}
	tc := &trackedConn{Conn: conn, owner: c}
	c.conns[tc] = struct{}{}
	return tc, true
}

func (c *Channel) untrack(tc *trackedConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, tc)
}

// Live reports how many connections are open on the channel.
func (c *Channel) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *Channel) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conns := make([]*trackedConn, 0, len(c.conns))
	for tc := range c.conns {
		conns = append(conns, tc)
	}
	c.mu.Unlock()

	for _, tc := range conns {
		_ = tc.Close()
	}
	return c.transport.Close()
}

type trackedConn struct {
	transport.Conn
	owner *Channel
	once  sync.Once
}

func (t *trackedConn) Close() error {
	var err error
	t.once.Do(func() {
		err = t.Conn.Close()
		t.owner.untrack(t)
	})
	return err
}
