// Package webrtc implements the data-channel transport over pion WebRTC,
// exchanging session descriptions through a transport.Signaler.
package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/signaling"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

// sessionDescription is the signaled payload. Conn names the connection the
// offer opens, so one pair of peers can hold several at once.
type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
	Conn string `json:"conn"`
}

type connKey struct {
	peer string
	conn string
}

type webrtcTransport struct {
	config   webrtc.Configuration
	signaler transport.Signaler
	logger   logrus.FieldLogger

	mu          sync.RWMutex
	connections map[connKey]*connection
	incoming    chan transport.Conn
	closed      bool
	done        chan struct{}
	closeOnce   sync.Once
}

// New creates a WebRTC transport that owns signaler and closes it on Close.
func New(signaler transport.Signaler, stunServers []string, log logrus.FieldLogger) transport.Transport {
	if log == nil {
		log = logger.NewLogger()
	}

	t := &webrtcTransport{
		config:      Configuration(stunServers),
		signaler:    signaler,
		logger:      log,
		connections: make(map[connKey]*connection),
		incoming:    make(chan transport.Conn, 16),
		done:        make(chan struct{}),
	}
	go t.routeSignals()
	return t
}

func (t *webrtcTransport) Connect(ctx context.Context, peerID string) (transport.Conn, error) {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := newConnection(uuid.NewString(), peerID, pc, true, t.logger)
	if err := t.track(conn); err != nil {
		_ = pc.Close()
		return nil, err
	}

	if err := conn.createDataChannel(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := t.setLocalAndSignal(ctx, conn, offer); err != nil {
		_ = conn.Close()
		return nil, err
	}

	select {
	case <-conn.opened:
		t.logger.WithField("peer", peerID).Info("Data channel open")
		return conn, nil
	case <-conn.failed:
		_ = conn.Close()
		return nil, conn.failErr
	case <-ctx.Done():
		_ = conn.Close()
		return nil, ctx.Err()
	}
}

func (t *webrtcTransport) Accept() <-chan transport.Conn {
	return t.incoming
}

func (t *webrtcTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		t.closed = true
		conns := make([]*connection, 0, len(t.connections))
		for _, conn := range t.connections {
			conns = append(conns, conn)
		}
		t.connections = make(map[connKey]*connection)
		close(t.incoming)
		t.mu.Unlock()

		for _, conn := range conns {
			_ = conn.Close()
		}
		_ = t.signaler.Close()
	})
	return nil
}

func (t *webrtcTransport) track(conn *connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return transport.ErrClosed
	}
	key := conn.key()
	if _, taken := t.connections[key]; taken {
		return fmt.Errorf("duplicate connection %s from %s", conn.id, conn.peerID)
	}
	t.connections[key] = conn
	conn.onClose = t.untrack
	return nil
}

func (t *webrtcTransport) untrack(conn *connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connections[conn.key()] == conn {
		delete(t.connections, conn.key())
	}
}

// pending lists the outbound connections to peerID still waiting to open.
func (t *webrtcTransport) pending(peerID string) []*connection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*connection
	for key, conn := range t.connections {
		if key.peer != peerID || !conn.isInitiator {
			continue
		}
		select {
		case <-conn.opened:
		default:
			out = append(out, conn)
		}
	}
	return out
}

func (t *webrtcTransport) routeSignals() {
	for sig := range t.signaler.RecvSignal() {
		if err := t.handleSignal(sig); err != nil {
			t.logger.WithError(err).WithField("peer", sig.PeerID).Warn("Failed to handle signal")
		}
	}
}

func (t *webrtcTransport) handleSignal(sig transport.Signal) error {
	// the hub reports an unreachable peer, not a connection
	if sig.Err != nil {
		for _, conn := range t.pending(sig.PeerID) {
			conn.fail(sig.Err)
		}
		return nil
	}

	var desc sessionDescription
	if err := json.Unmarshal(sig.Payload, &desc); err != nil {
		return fmt.Errorf("malformed session description: %w", err)
	}
	if desc.Conn == "" {
		return fmt.Errorf("session description from %s names no connection", sig.PeerID)
	}

	switch desc.Type {
	case "offer":
		return t.answer(sig.PeerID, desc.Conn, desc.SDP)
	case "answer":
		t.mu.RLock()
		conn, exists := t.connections[connKey{peer: sig.PeerID, conn: desc.Conn}]
		t.mu.RUnlock()
		if !exists || !conn.isInitiator {
			return fmt.Errorf("unexpected answer from %s", sig.PeerID)
		}
		return conn.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP})
	default:
		return fmt.Errorf("unknown session description type %q", desc.Type)
	}
}

func (t *webrtcTransport) answer(peerID, connID, sdp string) error {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := newConnection(connID, peerID, pc, false, t.logger)
	conn.onOpen = t.deliver
	if err := t.track(conn); err != nil {
		_ = pc.Close()
		return err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to create answer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := t.setLocalAndSignal(ctx, conn, answer); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// setLocalAndSignal applies desc, waits for ICE gathering so the description
// carries every candidate, then sends it to the peer.
func (t *webrtcTransport) setLocalAndSignal(ctx context.Context, conn *connection, desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(conn.pc)
	if err := conn.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	local := conn.pc.LocalDescription()
	payload, err := json.Marshal(sessionDescription{Type: local.Type.String(), SDP: local.SDP, Conn: conn.id})
	if err != nil {
		return err
	}
	if err := t.signaler.SendSignal(ctx, conn.peerID, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", local.Type, err)
	}
	return nil
}

func (t *webrtcTransport) deliver(conn *connection) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.incoming <- conn:
		t.logger.WithField("peer", conn.peerID).Info("Accepted data channel")
	case <-t.done:
	}
}

// Listener claims peer addresses on a signaling hub and serves WebRTC
// transports for them.
type Listener struct {
	ServerURL   string
	STUNServers []string
	Logger      logrus.FieldLogger
}

var _ transport.Listener = (*Listener)(nil)

func (l *Listener) Listen(ctx context.Context, address string) (transport.Transport, error) {
	client, err := signaling.Dial(ctx, l.ServerURL, address, l.Logger)
	if err != nil {
		return nil, err
	}
	return New(client, l.STUNServers, l.Logger), nil
}
