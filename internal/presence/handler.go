package presence

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type session struct {
	id   string
	conn *websocket.Conn
	send chan Envelope
}

// Handler serves the presence channel. Each websocket session gets a fresh
// transport address; losing the socket is reported to the registry.
type Handler struct {
	registry    *Registry
	logger      logrus.FieldLogger
	unsubscribe func()

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewHandler(registry *Registry, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logger.NewLogger()
	}
	h := &Handler{
		registry: registry,
		logger:   log,
		sessions: make(map[string]*session),
	}
	h.unsubscribe = registry.Events().Subscribe(h.onPresenceChanged)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade presence connection")
		return
	}

	s := &session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Envelope, sendQueueSize),
	}
	h.logger.WithFields(logrus.Fields{"transport": s.id, "remote": r.RemoteAddr}).Info("Presence session opened")

	h.registry.Watch(func(snapshot []DeviceRecord) {
		env, err := NewEnvelope(MsgPresenceList, snapshot)
		h.mu.Lock()
		defer h.mu.Unlock()
		h.sessions[s.id] = s
		if err == nil {
			h.enqueueLocked(s, env)
		}
	})

	go h.writePump(s)
	h.readPump(s)
}

// Sessions reports the number of live presence sessions.
func (h *Handler) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Handler) Close() {
	h.unsubscribe()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		_ = s.conn.Close()
	}
}

func (h *Handler) onPresenceChanged(ev PresenceChanged) {
	env, err := NewEnvelope(MsgPresenceList, ev.Snapshot)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode presence list")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		h.enqueueLocked(s, env)
	}
}

func (h *Handler) enqueue(s *session, env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.enqueueLocked(s, env)
}

// enqueueLocked must run with h.mu held; a session that cannot keep up is
// disconnected rather than allowed to stall the registry.
func (h *Handler) enqueueLocked(s *session, env Envelope) {
	if _, live := h.sessions[s.id]; !live {
		return
	}
	select {
	case s.send <- env:
	default:
		h.logger.WithField("transport", s.id).Warn("Presence send queue full, dropping session")
		_ = s.conn.Close()
	}
}

func (h *Handler) readPump(s *session) {
	defer func() {
		h.mu.Lock()
		delete(h.sessions, s.id)
		close(s.send)
		h.mu.Unlock()

		_ = s.conn.Close()
		h.registry.HandleTransportLoss(s.id)
		h.logger.WithField("transport", s.id).Info("Presence session closed")
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).WithField("transport", s.id).Debug("Presence read failed")
			}
			return
		}
		h.handleMessage(s, env)
	}
}

func (h *Handler) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case env, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleMessage(s *session, env Envelope) {
	switch env.Type {
	case MsgRegister:
		var p RegisterPayload
		if err := env.Decode(&p); err != nil {
			h.replyError(s, env.RequestID, CodeBadMessage, err)
			return
		}
		rec, err := h.registry.Register(s.id, p.Name, p.DeviceType)
		if err != nil {
			h.replyError(s, env.RequestID, errorCode(err), err)
			return
		}
		h.reply(s, env.RequestID, MsgRegistered, AckPayload{Success: true, Message: "device registered", Device: &rec})

	case MsgReconnect:
		var p ReconnectPayload
		if err := env.Decode(&p); err != nil {
			h.replyError(s, env.RequestID, CodeBadMessage, err)
			return
		}
		rec, err := h.registry.Reconnect(ReconnectRequest{
			ID:               p.ID,
			TransportAddress: s.id,
			PeerAddress:      p.PeerAddress,
			Name:             p.Name,
			DeviceType:       p.DeviceType,
		})
		if err != nil {
			h.replyError(s, env.RequestID, errorCode(err), err)
			return
		}
		h.reply(s, env.RequestID, MsgReconnected, AckPayload{Success: true, Message: "device reconnected", Device: &rec})

	case MsgUpdatePeerAddress:
		var p UpdatePeerAddressPayload
		if err := env.Decode(&p); err != nil {
			h.replyError(s, env.RequestID, CodeBadMessage, err)
			return
		}
		rec, err := h.registry.UpdatePeerAddress(p.ID, p.PeerAddress)
		if err != nil {
			h.replyError(s, env.RequestID, errorCode(err), err)
			return
		}
		h.reply(s, env.RequestID, MsgPeerAddressUpdated, UpdatePeerAddressPayload{ID: rec.ID, PeerAddress: rec.PeerAddress})

	case MsgUpdateDeviceName:
		var p UpdateDeviceNamePayload
		if err := env.Decode(&p); err != nil {
			h.replyError(s, env.RequestID, CodeBadMessage, err)
			return
		}
		rec, err := h.registry.UpdateName(p.ID, p.Name)
		if err != nil {
			h.replyError(s, env.RequestID, errorCode(err), err)
			return
		}
		h.reply(s, env.RequestID, MsgDeviceNameUpdated, UpdateDeviceNamePayload{ID: rec.ID, Name: rec.Name})

	default:
		h.logger.WithFields(logrus.Fields{"transport": s.id, "type": env.Type}).Warn("Unhandled presence message")
		h.replyError(s, env.RequestID, CodeUnknownMessage, errors.New("unknown message type "+string(env.Type)))
	}
}

func (h *Handler) reply(s *session, requestID string, t MessageType, payload any) {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode reply")
		return
	}
	env.RequestID = requestID
	h.enqueue(s, env)
}

func (h *Handler) replyError(s *session, requestID, code string, err error) {
	h.logger.WithFields(logrus.Fields{"transport": s.id, "code": code}).WithError(err).Debug("Presence request rejected")
	h.reply(s, requestID, MsgError, ErrorPayload{Code: code, Message: err.Error()})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrUnknownDevice):
		return CodeUnknownDevice
	default:
		return CodeBadMessage
	}
}
