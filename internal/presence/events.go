package presence

import "sync"

type Reason string

const (
	ReasonRegistered         Reason = "registered"
	ReasonReconnected        Reason = "reconnected"
	ReasonPeerAddressUpdated Reason = "peer-address-updated"
	ReasonNameUpdated        Reason = "name-updated"
	ReasonWentOffline        Reason = "went-offline"
	ReasonPurged             Reason = "purged"
)

// PresenceChanged is published after every registry mutation.
type PresenceChanged struct {
	Reason   Reason
	DeviceID string
	Snapshot []DeviceRecord
}

// Bus delivers events synchronously, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(PresenceChanged)
	order  []int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(PresenceChanged))}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(PresenceChanged)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

func (b *Bus) Publish(ev PresenceChanged) {
	b.mu.RLock()
	fns := make([]func(PresenceChanged), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
