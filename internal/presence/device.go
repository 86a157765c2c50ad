// Package presence tracks which devices are online and under which
// addresses, and carries the presence channel between devices and the
// registry.
package presence

import (
	"time"
)

type DeviceType string

const (
	DevicePhone   DeviceType = "phone"
	DeviceTablet  DeviceType = "tablet"
	DeviceLaptop  DeviceType = "laptop"
	DeviceDesktop DeviceType = "desktop"
)

func (t DeviceType) Valid() bool {
	switch t {
	case DevicePhone, DeviceTablet, DeviceLaptop, DeviceDesktop:
		return true
	}
	return false
}

type DeviceRecord struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	DeviceType       DeviceType `json:"deviceType"`
	TransportAddress string     `json:"transportAddress"`
	PeerAddress      string     `json:"peerAddress,omitempty"`
	Online           bool       `json:"online"`
	LastSeen         time.Time  `json:"lastSeen"`
}
