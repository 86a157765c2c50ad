package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
)

func TestListenAddressInUse(t *testing.T) {
	n := NewNetwork()
	ctx := context.Background()

	a, err := n.Listen(ctx, "alpha")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if _, err := n.Listen(ctx, "alpha"); !errors.Is(err, transport.ErrAddressInUse) {
		t.Fatalf("expected ErrAddressInUse, got %v", err)
	}

	_ = a.Close()
	if _, err := n.Listen(ctx, "alpha"); err != nil {
		t.Fatalf("address not released after Close: %v", err)
	}
}

func TestConnectSendRecv(t *testing.T) {
	n := NewNetwork()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a, _ := n.Listen(ctx, "alpha")
	b, _ := n.Listen(ctx, "beta")
	defer func() { _ = a.Close() }()
	defer func() { _ = b.Close() }()

	out, err := a.Connect(ctx, "beta")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	var in transport.Conn
	select {
	case in = <-b.Accept():
	case <-ctx.Done():
		t.Fatal("no inbound connection")
	}
	if in.PeerID() != "alpha" {
		t.Errorf("expected peer alpha, got %s", in.PeerID())
	}

	for _, msg := range []string{"one", "two", "three"} {
		if err := out.Send([]byte(msg)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	_ = out.Close()

	var got []string
	for msg := range in.Recv() {
		got = append(got, string(msg))
	}
	if len(got) != 3 || got[0] != "one" || got[2] != "three" {
		t.Errorf("unexpected messages %v", got)
	}
}

func TestConnectUnknownPeer(t *testing.T) {
	n := NewNetwork()
	a, _ := n.Listen(context.Background(), "alpha")
	defer func() { _ = a.Close() }()

	if _, err := a.Connect(context.Background(), "ghost"); !errors.Is(err, transport.ErrPeerUnavailable) {
		t.Fatalf("expected ErrPeerUnavailable, got %v", err)
	}
}

func TestSendAfterRemoteClose(t *testing.T) {
	a, b := Pipe("a", "b")
	_ = b.Close()

	if err := a.Send([]byte("x")); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
