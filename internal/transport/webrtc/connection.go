package webrtc

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	maxBufferedAmount uint64 = 1 << 20
	lowBufferedAmount uint64 = 256 << 10

	drainTimeout = 5 * time.Second
	drainPoll    = 20 * time.Millisecond
)

var errNotReady = errors.New("data channel not ready")

type connection struct {
	id          string
	peerID      string
	pc          *webrtc.PeerConnection
	isInitiator bool
	logger      logrus.FieldLogger
	onOpen      func(*connection)
	onClose     func(*connection)

	mu sync.Mutex
	dc *webrtc.DataChannel

	recvMu     sync.RWMutex
	recvChan   chan []byte
	recvClosed bool

	lowBuffer chan struct{}
	opened    chan struct{}
	openOnce  sync.Once
	failed    chan struct{}
	failOnce  sync.Once
	failErr   error
	closed    chan struct{}
	closeOnce sync.Once
}

func newConnection(id, peerID string, pc *webrtc.PeerConnection, isInitiator bool, log logrus.FieldLogger) *connection {
	conn := &connection{
		id:          id,
		peerID:      peerID,
		pc:          pc,
		isInitiator: isInitiator,
		logger:      log.WithFields(logrus.Fields{"peer": peerID, "conn": id}),
		recvChan:    make(chan []byte, 256),
		lowBuffer:   make(chan struct{}, 1),
		opened:      make(chan struct{}),
		failed:      make(chan struct{}),
		closed:      make(chan struct{}),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		conn.logger.WithField("state", s.String()).Debug("Peer connection state changed")
		switch s {
		case webrtc.PeerConnectionStateFailed:
			conn.fail(errors.New("peer connection failed"))
			go conn.Close()
		case webrtc.PeerConnectionStateClosed:
			go conn.Close()
		}
	})

	if !isInitiator {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			conn.setupDataChannel(dc)
		})
	}

	return conn
}

func (c *connection) createDataChannel() error {
	dc, err := c.pc.CreateDataChannel(dataChannelLabel, DataChannelConfig())
	if err != nil {
		return err
	}
	c.setupDataChannel(dc)
	return nil
}

func (c *connection) setupDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.SetBufferedAmountLowThreshold(lowBufferedAmount)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.lowBuffer <- struct{}{}:
		default:
		}
	})

	dc.OnOpen(func() {
		c.openOnce.Do(func() {
			close(c.opened)
			if c.onOpen != nil {
				c.onOpen(c)
			}
		})
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.recvMu.RLock()
		defer c.recvMu.RUnlock()
		if c.recvClosed {
			return
		}
		select {
		case c.recvChan <- msg.Data:
		case <-c.closed:
		}
	})

	dc.OnClose(func() {
		go c.Close()
	})
}

func (c *connection) fail(err error) {
	c.failOnce.Do(func() {
		c.failErr = err
		close(c.failed)
	})
}

func (c *connection) key() connKey {
	return connKey{peer: c.peerID, conn: c.id}
}

func (c *connection) PeerID() string {
	return c.peerID
}

// Send waits while the channel's send buffer is above its high-water mark.
func (c *connection) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil {
		return errNotReady
	}

	for dc.BufferedAmount() > maxBufferedAmount {
		select {
		case <-c.lowBuffer:
		case <-c.closed:
			return transport.ErrClosed
		}
	}

	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	return dc.Send(data)
}

func (c *connection) Recv() <-chan []byte {
	return c.recvChan
}

func (c *connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.recvMu.Lock()
		c.recvClosed = true
		close(c.recvChan)
		c.recvMu.Unlock()

		c.mu.Lock()
		dc := c.dc
		c.mu.Unlock()
		if dc != nil {
			drain(dc)
			_ = dc.Close()
		}
		err = c.pc.Close()

		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return err
}

// drain waits for queued outbound data to leave before the channel is torn
// down, so the last messages of a transfer are not lost.
func drain(dc *webrtc.DataChannel) {
	deadline := time.Now().Add(drainTimeout)
	for dc.ReadyState() == webrtc.DataChannelStateOpen && dc.BufferedAmount() > 0 && time.Now().Before(deadline) {
		time.Sleep(drainPoll)
	}
}
