package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

var ErrClosed = errors.New("presence connection closed")

// RequestError is a rejection reported by the registry.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("presence: %s: %s", e.Code, e.Message)
}

// Client is a device's end of the presence channel. Requests are serialized;
// each waits for its acknowledgement.
type Client struct {
	conn   *websocket.Conn
	logger logrus.FieldLogger

	reqMu   sync.Mutex
	writeMu sync.Mutex
	replies chan Envelope
	updates chan []DeviceRecord
	done    chan struct{}

	mu        sync.RWMutex
	devices   []DeviceRecord
	closeOnce sync.Once
}

func Dial(ctx context.Context, serverURL string, log logrus.FieldLogger) (*Client, error) {
	if log == nil {
		log = logger.NewLogger()
	}

	wsURL, err := transport.WebsocketURL(serverURL, "/presence")
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to presence service: %w", err)
	}

	c := &Client{
		conn:    conn,
		logger:  log,
		replies: make(chan Envelope, 8),
		updates: make(chan []DeviceRecord, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	log.WithField("url", wsURL).Info("Connected to presence service")
	return c, nil
}

func (c *Client) Register(ctx context.Context, name string, deviceType DeviceType) (DeviceRecord, error) {
	env, err := c.request(ctx, MsgRegister, RegisterPayload{Name: name, DeviceType: deviceType}, MsgRegistered)
	if err != nil {
		return DeviceRecord{}, err
	}
	return ackDevice(env)
}

func (c *Client) Reconnect(ctx context.Context, p ReconnectPayload) (DeviceRecord, error) {
	env, err := c.request(ctx, MsgReconnect, p, MsgReconnected)
	if err != nil {
		return DeviceRecord{}, err
	}
	return ackDevice(env)
}

func (c *Client) UpdatePeerAddress(ctx context.Context, deviceID, peerAddress string) error {
	_, err := c.request(ctx, MsgUpdatePeerAddress,
		UpdatePeerAddressPayload{ID: deviceID, PeerAddress: peerAddress}, MsgPeerAddressUpdated)
	return err
}

func (c *Client) UpdateName(ctx context.Context, deviceID, name string) error {
	_, err := c.request(ctx, MsgUpdateDeviceName, UpdateDeviceNamePayload{ID: deviceID, Name: name}, MsgDeviceNameUpdated)
	return err
}

// Devices returns the most recent presence list.
func (c *Client) Devices() []DeviceRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]DeviceRecord(nil), c.devices...)
}

// Updates yields presence lists as they arrive. Slow readers only see the
// latest list.
func (c *Client) Updates() <-chan []DeviceRecord {
	return c.updates
}

func (c *Client) Done() <-chan struct{} {
	return c.done
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

func (c *Client) request(ctx context.Context, t MessageType, payload any, want MessageType) (Envelope, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	env, err := NewEnvelope(t, payload)
	if err != nil {
		return Envelope{}, err
	}
	env.RequestID = uuid.NewString()

	c.writeMu.Lock()
	err = c.conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to send %s: %w", t, err)
	}

	for {
		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-c.done:
			return Envelope{}, ErrClosed
		case reply := <-c.replies:
			if reply.RequestID != env.RequestID {
				c.logger.WithFields(logrus.Fields{"type": reply.Type, "request": reply.RequestID}).Debug("Ignoring stale presence reply")
				continue
			}
			switch reply.Type {
			case want:
				return reply, nil
			case MsgError:
				var p ErrorPayload
				if err := reply.Decode(&p); err != nil {
					return Envelope{}, err
				}
				return Envelope{}, &RequestError{Code: p.Code, Message: p.Message}
			default:
				c.logger.WithField("type", reply.Type).Warn("Unexpected presence reply")
			}
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Warn("Presence connection lost")
			}
			return
		}

		if env.Type != MsgPresenceList {
			select {
			case c.replies <- env:
			default:
				c.logger.WithField("type", env.Type).Warn("Dropping unsolicited presence reply")
			}
			continue
		}

		var list []DeviceRecord
		if err := env.Decode(&list); err != nil {
			c.logger.WithError(err).Warn("Malformed presence list")
			continue
		}

		c.mu.Lock()
		c.devices = list
		c.mu.Unlock()

		select {
		case <-c.updates:
		default:
		}
		c.updates <- list
	}
}

func ackDevice(env Envelope) (DeviceRecord, error) {
	var ack AckPayload
	if err := env.Decode(&ack); err != nil {
		return DeviceRecord{}, err
	}
	if !ack.Success || ack.Device == nil {
		return DeviceRecord{}, &RequestError{Code: "rejected", Message: ack.Message}
	}
	return *ack.Device, nil
}
