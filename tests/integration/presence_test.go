package integration

import (
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/node"
	"github.com/rudransh-shrivastava/peer-drop/internal/presence"
	"github.com/rudransh-shrivastava/peer-drop/internal/transfer"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func lookup(n *node.Node, id string) (presence.DeviceRecord, bool) {
	for _, d := range n.Devices() {
		if d.ID == id {
			return d, true
		}
	}
	return presence.DeviceRecord{}, false
}

func registered(n *Network, id string) (presence.DeviceRecord, bool) {
	for _, d := range n.Server().Registry().Snapshot() {
		if d.ID == id {
			return d, true
		}
	}
	return presence.DeviceRecord{}, false
}

func TestDevicesSeeEachOther(t *testing.T) {
	net := NewNetwork(t, time.Minute)

	alice := net.NewDevice("Alice", transfer.Handlers{})
	bob := net.NewDevice("Bob", transfer.Handlers{})

	waitFor(t, "alice to see bob", func() bool {
		d, ok := lookup(alice, bob.Device().ID)
		return ok && d.Online && d.PeerAddress == bob.Device().PeerAddress
	})
	waitFor(t, "bob to see alice", func() bool {
		d, ok := lookup(bob, alice.Device().ID)
		return ok && d.Online && d.PeerAddress == alice.Device().PeerAddress
	})

	if alice.Device().PeerAddress == bob.Device().PeerAddress {
		t.Fatalf("Devices share peer address %s", alice.Device().PeerAddress)
	}
}

func TestOfflineDeviceKeptWithinGrace(t *testing.T) {
	net := NewNetwork(t, time.Minute)

	watcher := net.NewDevice("Watcher", transfer.Handlers{})

	dataDir := t.TempDir()
	desk := net.StartDevice(net.Config("Desk", dataDir), transfer.Handlers{})
	id, peerAddr := desk.Device().ID, desk.Device().PeerAddress

	if err := desk.Close(); err != nil {
		t.Fatalf("Failed to close device: %v", err)
	}

	waitFor(t, "desk to go offline", func() bool {
		d, ok := lookup(watcher, id)
		return ok && !d.Online
	})
	if d, ok := registered(net, id); !ok || d.PeerAddress != peerAddr {
		t.Fatalf("Offline record lost within grace: %+v", d)
	}

	again := net.StartDevice(net.Config("Desk", dataDir), transfer.Handlers{})
	if again.Device().ID != id {
		t.Fatalf("Expected id %s after reconnect, got %s", id, again.Device().ID)
	}
	if again.Device().PeerAddress != peerAddr {
		t.Fatalf("Expected peer address %s after reconnect, got %s", peerAddr, again.Device().PeerAddress)
	}

	waitFor(t, "desk to come back online", func() bool {
		d, ok := lookup(watcher, id)
		return ok && d.Online
	})
}

func TestOfflineDevicePurgedAfterGrace(t *testing.T) {
	net := NewNetwork(t, 100*time.Millisecond)

	watcher := net.NewDevice("Watcher", transfer.Handlers{})
	desk := net.NewDevice("Desk", transfer.Handlers{})
	id := desk.Device().ID

	waitFor(t, "watcher to see desk", func() bool {
		_, ok := lookup(watcher, id)
		return ok
	})

	if err := desk.Close(); err != nil {
		t.Fatalf("Failed to close device: %v", err)
	}

	waitFor(t, "desk to be purged", func() bool {
		_, ok := registered(net, id)
		return !ok
	})
	waitFor(t, "watcher to drop desk", func() bool {
		_, ok := lookup(watcher, id)
		return !ok
	})
}
