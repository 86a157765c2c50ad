// Package transport defines the data-channel capabilities the peer
// connection manager and the transfer engine are written against.
package transport

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrAddressInUse is returned by Listen when another endpoint already
	// holds the requested peer address.
	ErrAddressInUse    = errors.New("address already in use")
	ErrPeerUnavailable = errors.New("peer unavailable")
	ErrClosed          = errors.New("transport closed")
	ErrInvalidAddress  = errors.New("invalid peer address")
)

// Transport is a local endpoint bound to one peer address.
type Transport interface {
	Connect(ctx context.Context, peerID string) (Conn, error)
	Accept() <-chan Conn
	Close() error
}

// Conn is an ordered, reliable message channel to one peer. Send returns once
// the message has been handed to the channel; Recv is closed when the
// channel goes away.
type Conn interface {
	PeerID() string
	Send(data []byte) error
	Recv() <-chan []byte
	Close() error
}

// Listener binds transports to peer addresses.
type Listener interface {
	Listen(ctx context.Context, address string) (Transport, error)
}

type Signaler interface {
	SendSignal(ctx context.Context, peerID string, signal []byte) error
	RecvSignal() <-chan Signal
	io.Closer
}

type Signal struct {
	PeerID  string
	Payload []byte
	// Err is set when the signaling service could not reach PeerID.
	Err error
}
