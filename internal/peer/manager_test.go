package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport/memory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryAddressStore struct {
	mu    sync.Mutex
	addr  string
	saves int
}

func (s *memoryAddressStore) PeerAddress(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr, nil
}

func (s *memoryAddressStore) SavePeerAddress(_ context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr = addr
	s.saves++
	return nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sequence(addrs ...string) func() (string, error) {
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(addrs) == 0 {
			return "", errors.New("sequence exhausted")
		}
		next := addrs[0]
		addrs = addrs[1:]
		return next, nil
	}
}

func newTestManager(listener transport.Listener, st *memoryAddressStore, gen func() (string, error)) *Manager {
	return NewManager(Config{
		Listener:        listener,
		Store:           st,
		Logger:          quietLogger(),
		RetryBackoff:    time.Millisecond,
		GenerateAddress: gen,
	})
}

func TestEnsureLocalIdentityPersists(t *testing.T) {
	st := &memoryAddressStore{}
	m := newTestManager(memory.NewNetwork(), st, nil)
	ctx := context.Background()

	first, err := m.EnsureLocalIdentity(ctx)
	require.NoError(t, err)
	assert.Len(t, first, transport.AddressLength)
	assert.True(t, transport.ValidAddress(first))

	second, err := m.EnsureLocalIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, st.saves)
}

func TestEnsureLocalIdentityReplacesMalformed(t *testing.T) {
	st := &memoryAddressStore{addr: "bad address!"}
	m := newTestManager(memory.NewNetwork(), st, sequence("fresh1"))

	addr, err := m.EnsureLocalIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh1", addr)
	assert.Equal(t, "fresh1", st.addr)
}

func TestOpenRetriesOnCollision(t *testing.T) {
	net := memory.NewNetwork()
	ctx := context.Background()

	for _, taken := range []string{"taken1", "taken2"} {
		tr, err := net.Listen(ctx, taken)
		require.NoError(t, err)
		defer func() { _ = tr.Close() }()
	}

	st := &memoryAddressStore{addr: "taken1"}
	m := newTestManager(net, st, sequence("taken2", "free3"))

	ch, err := m.Open(ctx, "taken1")
	require.NoError(t, err)
	defer func() { _ = m.Close(ch) }()

	assert.Equal(t, "free3", ch.Address())
	assert.Equal(t, "free3", st.addr)
}

func TestOpenIdentityExhausted(t *testing.T) {
	net := memory.NewNetwork()
	ctx := context.Background()

	for _, taken := range []string{"a1", "a2", "a3"} {
		tr, err := net.Listen(ctx, taken)
		require.NoError(t, err)
		defer func() { _ = tr.Close() }()
	}

	st := &memoryAddressStore{}
	m := newTestManager(net, st, sequence("a2", "a3", "a4"))

	_, err := m.Open(ctx, "a1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIdentityExhausted)
	assert.Empty(t, st.addr, "nothing should be persisted on failure")
}

func TestOpenRejectsInvalidIdentity(t *testing.T) {
	m := newTestManager(memory.NewNetwork(), &memoryAddressStore{}, nil)
	_, err := m.Open(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestConnectAndAccept(t *testing.T) {
	net := memory.NewNetwork()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sender := newTestManager(net, &memoryAddressStore{}, nil)
	receiver := newTestManager(net, &memoryAddressStore{}, nil)

	sch, err := sender.Open(ctx, "sender")
	require.NoError(t, err)
	rch, err := receiver.Open(ctx, "receiver")
	require.NoError(t, err)
	defer func() { _ = receiver.Close(rch) }()

	out, err := sender.Connect(ctx, sch, "receiver", time.Second)
	require.NoError(t, err)

	var in transport.Conn
	select {
	case in = <-receiver.Accept(rch):
	case <-ctx.Done():
		t.Fatal("no inbound connection")
	}
	assert.Equal(t, "sender", in.PeerID())
	assert.Equal(t, 1, sch.Live())
	assert.Equal(t, 1, rch.Live())

	require.NoError(t, out.Send([]byte("hello")))
	assert.Equal(t, "hello", string(<-in.Recv()))

	// closing the sender's channel closes its live connections
	require.NoError(t, sender.Close(sch))
	assert.Equal(t, 0, sch.Live())
	_, open := <-in.Recv()
	assert.False(t, open)
}

func TestConnectUnknownPeerFails(t *testing.T) {
	net := memory.NewNetwork()
	m := newTestManager(net, &memoryAddressStore{}, nil)
	ctx := context.Background()

	ch, err := m.Open(ctx, "lonely")
	require.NoError(t, err)
	defer func() { _ = m.Close(ch) }()

	_, err = m.Connect(ctx, ch, "nobody", time.Second)
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.ErrorIs(t, err, transport.ErrPeerUnavailable)

	_, err = m.Connect(ctx, ch, "bad id", time.Second)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

// stallListener hands out transports whose Connect never completes.
type stallListener struct{}

func (stallListener) Listen(context.Context, string) (transport.Transport, error) {
	return &stallTransport{accept: make(chan transport.Conn)}, nil
}

type stallTransport struct {
	accept chan transport.Conn
	once   sync.Once
}

func (s *stallTransport) Connect(ctx context.Context, peerID string) (transport.Conn, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("dialing %s: %w", peerID, ctx.Err())
}

func (s *stallTransport) Accept() <-chan transport.Conn { return s.accept }

func (s *stallTransport) Close() error {
	s.once.Do(func() { close(s.accept) })
	return nil
}

func TestConnectTimeout(t *testing.T) {
	m := newTestManager(stallListener{}, &memoryAddressStore{}, nil)
	ctx := context.Background()

	ch, err := m.Open(ctx, "local")
	require.NoError(t, err)
	defer func() { _ = m.Close(ch) }()

	start := time.Now()
	_, err = m.Connect(ctx, ch, "remote", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}
