package signaling

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameSize  = 256 * 1024
	sendQueueSize = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type peer struct {
	id   string
	conn *websocket.Conn
	send chan Frame
}

type Hub struct {
	logger logrus.FieldLogger

	mu    sync.RWMutex
	peers map[string]*peer
}

func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logger.NewLogger()
	}
	return &Hub{
		logger: log,
		peers:  make(map[string]*peer),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade signaling connection")
		return
	}

	if !transport.ValidAddress(id) {
		rejectAndClose(conn, CodeInvalidID, "peer address must be alphanumeric")
		return
	}

	p := &peer{id: id, conn: conn, send: make(chan Frame, sendQueueSize)}
	if !h.claim(p) {
		h.logger.WithField("peer", id).Info("Peer address already claimed")
		rejectAndClose(conn, CodeUnavailableID, "peer address is already in use")
		return
	}

	h.logger.WithFields(logrus.Fields{"peer": id, "remote": r.RemoteAddr}).Info("Signaling peer connected")

	go h.writePump(p)
	h.readPump(p)
}

func (h *Hub) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.peers {
		_ = p.conn.Close()
	}
}

func (h *Hub) claim(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, taken := h.peers[p.id]; taken {
		return false
	}
	h.peers[p.id] = p
	p.send <- Frame{Type: FrameOpen, ID: p.id}
	return true
}

func (h *Hub) release(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.peers[p.id] == p {
		delete(h.peers, p.id)
	}
	close(p.send)
}

func (h *Hub) relay(from *peer, f Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	target, ok := h.peers[f.To]
	if !ok {
		h.enqueueLocked(from, Frame{Type: FrameError, Code: CodePeerUnavailable, Peer: f.To,
			Message: "could not connect to peer " + f.To})
		return
	}
	h.enqueueLocked(target, Frame{Type: FrameSignal, From: from.id, Payload: f.Payload})
}

func (h *Hub) enqueueLocked(p *peer, f Frame) {
	if h.peers[p.id] != p {
		return
	}
	select {
	case p.send <- f:
	default:
		h.logger.WithField("peer", p.id).Warn("Signaling queue full, dropping peer")
		_ = p.conn.Close()
	}
}

func (h *Hub) readPump(p *peer) {
	defer func() {
		h.release(p)
		_ = p.conn.Close()
		h.logger.WithField("peer", p.id).Info("Signaling peer disconnected")
	}()

	p.conn.SetReadLimit(maxFrameSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := p.conn.ReadJSON(&f); err != nil {
			return
		}

		switch f.Type {
		case FrameSignal:
			h.relay(p, f)
		default:
			h.mu.RLock()
			h.enqueueLocked(p, Frame{Type: FrameError, Code: CodeBadFrame, Message: "unexpected frame " + f.Type})
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) writePump(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case f, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func rejectAndClose(conn *websocket.Conn, code, msg string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(Frame{Type: FrameError, Code: code, Message: msg})
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code))
	_ = conn.Close()
}
