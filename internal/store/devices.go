package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
)

// ==================== Device Methods ====================

// CreateDevice pairs a device with its owner; chip ids are globally unique.
func (s *Store) CreateDevice(ctx context.Context, device *Device) error {
	_, err := guard(s, func() (struct{}, error) {
		var count int64
		if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", device.UserID).Count(&count).Error; err != nil {
			return struct{}{}, err
		}
		if count == 0 {
			return struct{}{}, apperrors.ErrUserNotFound
		}
		if err := s.db.WithContext(ctx).Model(&Device{}).Where("chip_id = ?", device.ChipID).Count(&count).Error; err != nil {
			return struct{}{}, err
		}
		if count > 0 {
			return struct{}{}, apperrors.ErrChipIDTaken
		}
		return struct{}{}, s.db.WithContext(ctx).Create(device).Error
	})
	return err
}

// GetDevice retrieves a device by ID
func (s *Store) GetDevice(ctx context.Context, id string) (*Device, error) {
	return guard(s, func() (*Device, error) {
		var device Device
		if err := s.db.WithContext(ctx).First(&device, "id = ?", id).Error; err != nil {
			return nil, notFound(err, apperrors.ErrDeviceNotFound)
		}
		return &device, nil
	})
}

// GetDeviceByChip retrieves a device by its hardware chip id
func (s *Store) GetDeviceByChip(ctx context.Context, chipID string) (*Device, error) {
	return guard(s, func() (*Device, error) {
		var device Device
		if err := s.db.WithContext(ctx).First(&device, "chip_id = ?", chipID).Error; err != nil {
			return nil, notFound(err, apperrors.ErrDeviceNotFound)
		}
		return &device, nil
	})
}

// ListDevices lists devices owned by a user
func (s *Store) ListDevices(ctx context.Context, userID string) ([]Device, error) {
	return guard(s, func() ([]Device, error) {
		var devices []Device
		err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("paired_at ASC").Find(&devices).Error
		return devices, err
	})
}

// UpdateDevice saves device fields
func (s *Store) UpdateDevice(ctx context.Context, device *Device) error {
	_, err := guard(s, func() (struct{}, error) {
		return struct{}{}, s.db.WithContext(ctx).Save(device).Error
	})
	return err
}

// DeleteDevice removes a device with its schedules and medlogs.
func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	_, err := guard(s, func() (struct{}, error) {
		return struct{}{}, s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Where("id = ?", id).Delete(&Device{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperrors.ErrDeviceNotFound
			}
			if err := tx.Where("device_id = ?", id).Delete(&Schedule{}).Error; err != nil {
				return err
			}
			return tx.Where("device_id = ?", id).Delete(&Medlog{}).Error
		})
	})
	return err
}

// Heartbeat marks a device online and stamps its last contact.
func (s *Store) Heartbeat(ctx context.Context, chipID string, at time.Time) (*Device, error) {
	return guard(s, func() (*Device, error) {
		at = at.UTC()
		res := s.db.WithContext(ctx).Model(&Device{}).
			Where("chip_id = ?", chipID).
			Updates(map[string]interface{}{"status": DeviceOnline, "last_seen": at})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, apperrors.ErrDeviceNotFound
		}
		var device Device
		if err := s.db.WithContext(ctx).First(&device, "chip_id = ?", chipID).Error; err != nil {
			return nil, err
		}
		return &device, nil
	})
}

// MarkStaleDevicesOffline flips online devices silent since before cutoff
// to offline and returns them.
func (s *Store) MarkStaleDevicesOffline(ctx context.Context, cutoff time.Time) ([]Device, error) {
	return guard(s, func() ([]Device, error) {
		var stale []Device
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("status = ? AND (last_seen IS NULL OR last_seen < ?)", DeviceOnline, cutoff.UTC()).
				Find(&stale).Error; err != nil {
				return err
			}
			if len(stale) == 0 {
				return nil
			}
			ids := make([]string, len(stale))
			for i := range stale {
				ids[i] = stale[i].ID
				stale[i].Status = DeviceOffline
			}
			return tx.Model(&Device{}).
				Where("id IN ? AND status = ? AND (last_seen IS NULL OR last_seen < ?)", ids, DeviceOnline, cutoff.UTC()).
				Update("status", DeviceOffline).Error
		})
		return stale, err
	})
}
