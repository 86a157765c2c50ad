package presence

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnknownDevice = errors.New("unknown device")
)

const DefaultPurgeGrace = 5 * time.Minute

type Options struct {
	PurgeGrace time.Duration
	Logger     logrus.FieldLogger
	Now        func() time.Time
	NewID      func() string
}

type ReconnectRequest struct {
	ID               string
	TransportAddress string
	PeerAddress      string
	Name             string
	DeviceType       DeviceType
}

type pendingPurge struct {
	timer *time.Timer
	seen  time.Time
}

// Registry owns the device records. Every mutation, including the event it
// publishes, completes before the next one starts.
type Registry struct {
	mu     sync.Mutex
	store  *Store
	bus    *Bus
	purges map[string]pendingPurge
	grace  time.Duration
	now    func() time.Time
	newID  func() string
	logger logrus.FieldLogger
	closed bool
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		store:  NewStore(),
		bus:    NewBus(),
		purges: make(map[string]pendingPurge),
		grace:  opts.PurgeGrace,
		now:    opts.Now,
		newID:  opts.NewID,
		logger: opts.Logger,
	}
	if r.grace <= 0 {
		r.grace = DefaultPurgeGrace
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	if r.logger == nil {
		r.logger = logger.NewLogger()
	}
	return r
}

func (r *Registry) Events() *Bus {
	return r.bus
}

func (r *Registry) Register(transportAddress, name string, deviceType DeviceType) (DeviceRecord, error) {
	if err := validateDevice(name, deviceType); err != nil {
		return DeviceRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for {
		if _, taken := r.store.Get(id); !taken {
			break
		}
		id = r.newID()
	}

	rec := DeviceRecord{
		ID:               id,
		Name:             name,
		DeviceType:       deviceType,
		TransportAddress: transportAddress,
		Online:           true,
		LastSeen:         r.now(),
	}
	r.releaseTransportLocked(transportAddress, rec.ID)
	r.store.Put(rec)

	r.logger.WithFields(logrus.Fields{"device": rec.ID, "name": name, "type": deviceType}).Info("Device registered")
	r.publishLocked(ReasonRegistered, rec.ID)
	return rec, nil
}

func (r *Registry) Reconnect(req ReconnectRequest) (DeviceRecord, error) {
	if req.DeviceType != "" && !req.DeviceType.Valid() {
		return DeviceRecord{}, fmt.Errorf("%w: unknown device type %q", ErrInvalidInput, req.DeviceType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, known := r.store.Get(req.ID)
	if !known || req.ID == "" {
		if err := validateDevice(req.Name, req.DeviceType); err != nil {
			return DeviceRecord{}, err
		}
		rec = DeviceRecord{ID: req.ID, Name: req.Name, DeviceType: req.DeviceType}
		if rec.ID == "" {
			rec.ID = r.newID()
		}
	} else {
		if req.Name != "" {
			rec.Name = req.Name
		}
		if req.DeviceType != "" {
			rec.DeviceType = req.DeviceType
		}
	}

	r.cancelPurgeLocked(rec.ID)

	r.releaseTransportLocked(req.TransportAddress, rec.ID)
	rec.TransportAddress = req.TransportAddress
	rec.Online = true
	rec.LastSeen = r.now()

	if req.PeerAddress != "" {
		r.evictHolderLocked(req.PeerAddress, rec.ID)
		rec.PeerAddress = req.PeerAddress
	} else if _, held := r.store.OnlineHolder(rec.PeerAddress, rec.ID); held {
		rec.PeerAddress = ""
	}
	r.store.Put(rec)

	r.logger.WithFields(logrus.Fields{"device": rec.ID, "known": known}).Info("Device reconnected")
	r.publishLocked(ReasonReconnected, rec.ID)
	return rec, nil
}

// UpdatePeerAddress assigns peerAddress to the device. Another online device
// holding the same address loses it.
func (r *Registry) UpdatePeerAddress(deviceID, peerAddress string) (DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.Get(deviceID)
	if !ok {
		return DeviceRecord{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	r.evictHolderLocked(peerAddress, deviceID)
	rec.PeerAddress = peerAddress
	r.store.Put(rec)

	r.logger.WithFields(logrus.Fields{"device": deviceID, "peer": peerAddress}).Info("Peer address updated")
	r.publishLocked(ReasonPeerAddressUpdated, deviceID)
	return rec, nil
}

func (r *Registry) UpdateName(deviceID, name string) (DeviceRecord, error) {
	if name == "" {
		return DeviceRecord{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.Get(deviceID)
	if !ok {
		return DeviceRecord{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	rec.Name = name
	r.store.Put(rec)

	r.publishLocked(ReasonNameUpdated, deviceID)
	return rec, nil
}

func (r *Registry) HandleTransportLoss(transportAddress string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.store.ByTransport(transportAddress); ok {
		r.goOfflineLocked(rec)
	}
}

func (r *Registry) Snapshot() []DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.List()
}

// Watch calls fn with the current records. No change is made or published
// until fn returns.
func (r *Registry) Watch(fn func([]DeviceRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.store.List())
}

// releaseTransportLocked takes transportAddress away from whichever other
// device still holds it. A transport carries at most one live device.
func (r *Registry) releaseTransportLocked(transportAddress, claimant string) {
	if transportAddress == "" {
		return
	}
	if rec, ok := r.store.ByTransport(transportAddress); ok && rec.ID != claimant {
		r.goOfflineLocked(rec)
	}
}

func (r *Registry) goOfflineLocked(rec DeviceRecord) {
	rec.Online = false
	rec.LastSeen = r.now()
	r.store.Put(rec)

	r.logger.WithFields(logrus.Fields{"device": rec.ID, "grace": r.grace}).Info("Device went offline")
	r.publishLocked(ReasonWentOffline, rec.ID)

	if r.closed {
		return
	}
	id, seen := rec.ID, rec.LastSeen
	r.cancelPurgeLocked(id)
	r.purges[id] = pendingPurge{
		timer: time.AfterFunc(r.grace, func() { r.purge(id, seen) }),
		seen:  seen,
	}
}

// Close stops pending purge timers. Records stay readable.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for id := range r.purges {
		r.cancelPurgeLocked(id)
	}
}

func (r *Registry) purge(id string, seen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, ok := r.purges[id]
	if !ok || !pending.seen.Equal(seen) {
		return
	}
	delete(r.purges, id)

	rec, ok := r.store.Get(id)
	if !ok || rec.Online || !rec.LastSeen.Equal(seen) {
		return
	}
	r.store.Delete(id)

	r.logger.WithField("device", id).Info("Device purged")
	r.publishLocked(ReasonPurged, id)
}

func (r *Registry) cancelPurgeLocked(id string) {
	if pending, ok := r.purges[id]; ok {
		pending.timer.Stop()
		delete(r.purges, id)
	}
}

func (r *Registry) evictHolderLocked(peerAddress, claimant string) {
	holder, ok := r.store.OnlineHolder(peerAddress, claimant)
	if !ok {
		return
	}
	holder.PeerAddress = ""
	r.store.Put(holder)
	r.logger.WithFields(logrus.Fields{"device": holder.ID, "peer": peerAddress, "claimant": claimant}).
		Warn("Peer address claimed by another device")
}

func (r *Registry) publishLocked(reason Reason, deviceID string) {
	r.bus.Publish(PresenceChanged{
		Reason:   reason,
		DeviceID: deviceID,
		Snapshot: r.store.List(),
	})
}

func validateDevice(name string, deviceType DeviceType) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if deviceType == "" {
		return fmt.Errorf("%w: device type is required", ErrInvalidInput)
	}
	if !deviceType.Valid() {
		return fmt.Errorf("%w: unknown device type %q", ErrInvalidInput, deviceType)
	}
	return nil
}
