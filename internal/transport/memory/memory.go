// Package memory is an in-process data-channel network. Endpoints claim peer
// addresses on a shared Network and connect to each other through pipes.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
)

const inboxSize = 64

type Network struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
}

func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*endpoint)}
}

var _ transport.Listener = (*Network)(nil)

func (n *Network) Listen(_ context.Context, address string) (transport.Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, taken := n.endpoints[address]; taken {
		return nil, fmt.Errorf("%w: %s", transport.ErrAddressInUse, address)
	}

	ep := &endpoint{
		network:  n,
		address:  address,
		incoming: make(chan transport.Conn, 16),
		conns:    make(map[*pipeConn]struct{}),
	}
	n.endpoints[address] = ep
	return ep, nil
}

func (n *Network) lookup(address string) (*endpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.endpoints[address]
	return ep, ok
}

func (n *Network) release(ep *endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[ep.address] == ep {
		delete(n.endpoints, ep.address)
	}
}

type endpoint struct {
	network  *Network
	address  string
	incoming chan transport.Conn

	mu     sync.Mutex
	conns  map[*pipeConn]struct{}
	closed bool
}

func (e *endpoint) Connect(ctx context.Context, peerID string) (transport.Conn, error) {
	target, ok := e.network.lookup(peerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrPeerUnavailable, peerID)
	}

	local, remote := pipe(e.address, peerID)
	if !e.track(local) {
		return nil, transport.ErrClosed
	}
	if !target.track(remote) {
		_ = local.Close()
		return nil, fmt.Errorf("%w: %s", transport.ErrPeerUnavailable, peerID)
	}

	select {
	case target.incoming <- remote:
		return local, nil
	case <-ctx.Done():
		_ = local.Close()
		_ = remote.Close()
		return nil, ctx.Err()
	}
}

func (e *endpoint) Accept() <-chan transport.Conn {
	return e.incoming
}

func (e *endpoint) Close() error {
	e.network.release(e)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for c := range e.conns {
		_ = c.Close()
	}
	close(e.incoming)
	return nil
}

func (e *endpoint) track(c *pipeConn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.conns[c] = struct{}{}
	return true
}

// Pipe returns two connected ends. The first reports bAddr as its peer, the
// second aAddr.
func Pipe(aAddr, bAddr string) (transport.Conn, transport.Conn) {
	return pipe(aAddr, bAddr)
}

func pipe(aAddr, bAddr string) (*pipeConn, *pipeConn) {
	a := newPipeConn(bAddr)
	b := newPipeConn(aAddr)
	a.remote, b.remote = b, a
	go a.pump()
	go b.pump()
	return a, b
}

type pipeConn struct {
	peerID string
	remote *pipeConn
	inbox  chan []byte
	recv   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPipeConn(peerID string) *pipeConn {
	return &pipeConn{
		peerID: peerID,
		inbox:  make(chan []byte, inboxSize),
		recv:   make(chan []byte),
		closed: make(chan struct{}),
	}
}

func (c *pipeConn) PeerID() string {
	return c.peerID
}

func (c *pipeConn) Send(data []byte) error {
	msg := append([]byte(nil), data...)

	select {
	case <-c.closed:
		return transport.ErrClosed
	case <-c.remote.closed:
		return transport.ErrClosed
	default:
	}

	select {
	case c.remote.inbox <- msg:
		return nil
	case <-c.closed:
		return transport.ErrClosed
	case <-c.remote.closed:
		return transport.ErrClosed
	}
}

func (c *pipeConn) Recv() <-chan []byte {
	return c.recv
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) pump() {
	defer close(c.recv)

	for {
		select {
		case msg := <-c.inbox:
			if !c.deliver(msg) {
				return
			}
		case <-c.remote.closed:
			for {
				select {
				case msg := <-c.inbox:
					if !c.deliver(msg) {
						return
					}
				default:
					return
				}
			}
		case <-c.closed:
			return
		}
	}
}

func (c *pipeConn) deliver(msg []byte) bool {
	select {
	case c.recv <- msg:
		return true
	case <-c.closed:
		return false
	}
}
