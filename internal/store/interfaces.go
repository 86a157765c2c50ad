package store

import (
	"context"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
)

// DeviceRepository persists this device's registration details.
type DeviceRepository interface {
	Device(ctx context.Context) (db.LocalDevice, bool, error)
	SaveDevice(ctx context.Context, id, name, deviceType string) error
}

// AddressRepository persists the local peer address.
type AddressRepository interface {
	PeerAddress(ctx context.Context) (string, error)
	SavePeerAddress(ctx context.Context, addr string) error
}
