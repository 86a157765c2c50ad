package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

// Client holds one peer address on the hub and implements
// transport.Signaler for it.
type Client struct {
	address string
	conn    *websocket.Conn
	logger  logrus.FieldLogger

	writeMu   sync.Mutex
	signals   chan transport.Signal
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Signaler = (*Client)(nil)

// Dial claims address on the hub at serverURL. A claimed address fails with
// transport.ErrAddressInUse.
func Dial(ctx context.Context, serverURL, address string, log logrus.FieldLogger) (*Client, error) {
	if log == nil {
		log = logger.NewLogger()
	}

	wsURL, err := transport.WebsocketURL(serverURL, "/signal")
	if err != nil {
		return nil, err
	}
	wsURL += "?id=" + url.QueryEscape(address)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to reach signaling service: %w", err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}
	var first Frame
	if err := conn.ReadJSON(&first); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("signaling handshake failed: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch {
	case first.Type == FrameOpen:
	case first.Type == FrameError && first.Code == CodeUnavailableID:
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", transport.ErrAddressInUse, address)
	case first.Type == FrameError && first.Code == CodeInvalidID:
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", transport.ErrInvalidAddress, address)
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected signaling handshake %q %s", first.Type, first.Message)
	}

	c := &Client{
		address: address,
		conn:    conn,
		logger:  log,
		signals: make(chan transport.Signal, 16),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Address() string {
	return c.address
}

func (c *Client) SendSignal(ctx context.Context, peerID string, signal []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	return c.conn.WriteJSON(Frame{Type: FrameSignal, To: peerID, Payload: signal})
}

func (c *Client) RecvSignal() <-chan transport.Signal {
	return c.signals
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer func() {
		close(c.done)
		close(c.signals)
	}()

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				c.logger.WithError(err).Debug("Signaling connection ended")
			}
			return
		}

		var sig transport.Signal
		switch {
		case f.Type == FrameSignal:
			sig = transport.Signal{PeerID: f.From, Payload: f.Payload}
		case f.Type == FrameError && f.Code == CodePeerUnavailable:
			sig = transport.Signal{PeerID: f.Peer, Err: fmt.Errorf("%w: %s", transport.ErrPeerUnavailable, f.Peer)}
		default:
			c.logger.WithFields(logrus.Fields{"type": f.Type, "code": f.Code}).Warn("Unexpected signaling frame")
			continue
		}
		c.signals <- sig
	}
}
