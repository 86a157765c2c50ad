// Package tracker hosts the presence service: the presence websocket, the
// signaling hub for peer connections and a couple of plain HTTP endpoints.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/presence"
	"github.com/rudransh-shrivastava/peer-drop/internal/signaling"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	config   Config
	logger   logrus.FieldLogger
	listener net.Listener
	http     *http.Server

	registry *presence.Registry
	presence *presence.Handler
	hub      *signaling.Hub
}

func NewServer(cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	registry := presence.NewRegistry(presence.Options{
		PurgeGrace: cfg.PurgeGrace,
		Logger:     log.WithField("component", "registry"),
	})

	s := &Server{
		config:   cfg,
		logger:   log,
		listener: ln,
		registry: registry,
		presence: presence.NewHandler(registry, log.WithField("component", "presence")),
		hub:      signaling.NewHub(log.WithField("component", "signaling")),
	}

	mux := http.NewServeMux()
	mux.Handle("/presence", s.presence)
	mux.Handle("/signal", s.hub)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/server-config", s.handleServerConfig)

	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Registry exposes the device registry backing the presence channel.
func (s *Server) Registry() *presence.Registry {
	return s.registry
}

// Start serves until ctx is done or the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("addr", s.Addr()).Info("Presence server started")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		if err := s.Shutdown(); err != nil {
			s.logger.WithError(err).Warn("Shutdown failed")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down presence server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// hijacked websocket connections are not tracked by http.Server
	s.presence.Close()
	s.hub.Close()
	s.registry.Close()

	err := s.http.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type connectedUser struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	DeviceType presence.DeviceType `json:"deviceType"`
	Online     bool                `json:"online"`
	LastSeen   time.Time           `json:"lastSeen"`
}

type healthResponse struct {
	Status         string          `json:"status"`
	Timestamp      time.Time       `json:"timestamp"`
	ConnectedUsers []connectedUser `json:"connectedUsers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.registry.Snapshot()
	users := make([]connectedUser, 0, len(snapshot))
	for _, d := range snapshot {
		users = append(users, connectedUser{
			ID:         d.ID,
			Name:       d.Name,
			DeviceType: d.DeviceType,
			Online:     d.Online,
			LastSeen:   d.LastSeen,
		})
	}

	writeJSON(w, healthResponse{
		Status:         "ok",
		Timestamp:      time.Now().UTC(),
		ConnectedUsers: users,
	})
}

type serverConfigResponse struct {
	PresenceURL string `json:"presenceURL"`
	SignalURL   string `json:"signalURL"`
}

func (s *Server) handleServerConfig(w http.ResponseWriter, r *http.Request) {
	base := s.config.PublicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}

	presenceURL, err := transport.WebsocketURL(base, "/presence")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	signalURL, err := transport.WebsocketURL(base, "/signal")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, serverConfigResponse{PresenceURL: presenceURL, SignalURL: signalURL})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
