package store

import (
	"context"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
)

// ==================== Schedule Methods ====================

// CreateSchedule inserts a schedule. The owner must exist and own the device.
func (s *Store) CreateSchedule(ctx context.Context, sched *Schedule) error {
	_, err := guard(s, func() (struct{}, error) {
		if err := s.checkOwnership(ctx, sched.UserID, sched.DeviceID); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.db.WithContext(ctx).Create(sched).Error
	})
	return err
}

func (s *Store) checkOwnership(ctx context.Context, userID, deviceID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return apperrors.ErrUserNotFound
	}
	if err := s.db.WithContext(ctx).Model(&Device{}).
		Where("id = ? AND user_id = ?", deviceID, userID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return apperrors.ErrDeviceNotFound
	}
	return nil
}

// GetSchedule retrieves a schedule by ID
func (s *Store) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	return guard(s, func() (*Schedule, error) {
		var sched Schedule
		if err := s.db.WithContext(ctx).First(&sched, "id = ?", id).Error; err != nil {
			return nil, notFound(err, apperrors.ErrScheduleNotFound)
		}
		return &sched, nil
	})
}

// ListSchedules returns every schedule of a user, earliest dose first.
func (s *Store) ListSchedules(ctx context.Context, userID string) ([]Schedule, error) {
	return guard(s, func() ([]Schedule, error) {
		var scheds []Schedule
		err := s.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("dose_time ASC, created_at ASC").
			Find(&scheds).Error
		return scheds, err
	})
}

// ListSchedulesByDevice returns the schedules a dispenser should run.
func (s *Store) ListSchedulesByDevice(ctx context.Context, deviceID string) ([]Schedule, error) {
	return guard(s, func() ([]Schedule, error) {
		var scheds []Schedule
		err := s.db.WithContext(ctx).
			Where("device_id = ?", deviceID).
			Order("dose_time ASC, created_at ASC").
			Find(&scheds).Error
		return scheds, err
	})
}

// UpdateSchedule saves schedule fields
func (s *Store) UpdateSchedule(ctx context.Context, sched *Schedule) error {
	_, err := guard(s, func() (struct{}, error) {
		if err := s.checkOwnership(ctx, sched.UserID, sched.DeviceID); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.db.WithContext(ctx).Save(sched).Error
	})
	return err
}

// DeleteSchedule removes a schedule
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	_, err := guard(s, func() (struct{}, error) {
		res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Schedule{})
		if res.Error != nil {
			return struct{}{}, res.Error
		}
		if res.RowsAffected == 0 {
			return struct{}{}, apperrors.ErrScheduleNotFound
		}
		return struct{}{}, nil
	})
	return err
}
