// Package store provides access to the locally persisted device identity.
package store

import (
	"context"
	"errors"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const localDeviceRow = 1

type IdentityStore struct {
	DB *gorm.DB
}

func NewIdentityStore(gdb *gorm.DB) *IdentityStore {
	return &IdentityStore{DB: gdb}
}

var (
	_ DeviceRepository  = (*IdentityStore)(nil)
	_ AddressRepository = (*IdentityStore)(nil)
)

func (s *IdentityStore) Device(ctx context.Context) (db.LocalDevice, bool, error) {
	var dev db.LocalDevice
	err := s.DB.WithContext(ctx).First(&dev, localDeviceRow).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.LocalDevice{}, false, nil
	}
	if err != nil {
		return db.LocalDevice{}, false, err
	}
	return dev, dev.DeviceID != "", nil
}

func (s *IdentityStore) SaveDevice(ctx context.Context, id, name, deviceType string) error {
	return s.upsert(ctx, map[string]any{
		"device_id":   id,
		"name":        name,
		"device_type": deviceType,
	})
}

// PeerAddress returns the persisted address, or "" when none was saved.
func (s *IdentityStore) PeerAddress(ctx context.Context) (string, error) {
	var dev db.LocalDevice
	err := s.DB.WithContext(ctx).First(&dev, localDeviceRow).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return dev.PeerAddress, err
}

func (s *IdentityStore) SavePeerAddress(ctx context.Context, addr string) error {
	return s.upsert(ctx, map[string]any{"peer_address": addr})
}

func (s *IdentityStore) upsert(ctx context.Context, fields map[string]any) error {
	row := db.LocalDevice{ID: localDeviceRow}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&db.LocalDevice{}).Where("id = ?", localDeviceRow).Updates(fields).Error
	})
}
