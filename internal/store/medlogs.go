package store

import (
	"context"
	"time"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
)

// ==================== Medlog Methods ====================

// CreateMedlog records a dose event. Times are stored in UTC so range
// comparisons stay correct on text-backed SQLite columns.
func (s *Store) CreateMedlog(ctx context.Context, log *Medlog) error {
	_, err := guard(s, func() (struct{}, error) {
		if err := s.checkOwnership(ctx, log.UserID, log.DeviceID); err != nil {
			return struct{}{}, err
		}
		normalizeMedlog(log)
		return struct{}{}, s.db.WithContext(ctx).Create(log).Error
	})
	return err
}

func normalizeMedlog(log *Medlog) {
	log.ScheduledTime = log.ScheduledTime.UTC()
	if log.TakenAt != nil {
		t := log.TakenAt.UTC()
		log.TakenAt = &t
	}
}

// GetMedlog retrieves a medlog by ID
func (s *Store) GetMedlog(ctx context.Context, id string) (*Medlog, error) {
	return guard(s, func() (*Medlog, error) {
		var log Medlog
		if err := s.db.WithContext(ctx).First(&log, "id = ?", id).Error; err != nil {
			return nil, notFound(err, apperrors.ErrMedlogNotFound)
		}
		return &log, nil
	})
}

// ListMedlogs returns a user's most recent medlogs.
func (s *Store) ListMedlogs(ctx context.Context, userID string, limit int) ([]Medlog, error) {
	return guard(s, func() ([]Medlog, error) {
		var logs []Medlog
		query := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("scheduled_time DESC, created_at DESC")
		if limit > 0 {
			query = query.Limit(limit)
		}
		err := query.Find(&logs).Error
		return logs, err
	})
}

// ListMedlogsSince returns medlogs with scheduled_time >= since, newest first.
func (s *Store) ListMedlogsSince(ctx context.Context, userID string, since time.Time) ([]Medlog, error) {
	return guard(s, func() ([]Medlog, error) {
		var logs []Medlog
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND scheduled_time >= ?", userID, since.UTC()).
			Order("scheduled_time DESC, created_at DESC").
			Find(&logs).Error
		return logs, err
	})
}

// CountMedlogsByStatus counts medlogs of one status with scheduled_time >= since.
func (s *Store) CountMedlogsByStatus(ctx context.Context, userID string, status Status, since time.Time) (int64, error) {
	return guard(s, func() (int64, error) {
		if !status.Valid() {
			return 0, apperrors.ErrInvalidStatus
		}
		var count int64
		err := s.db.WithContext(ctx).Model(&Medlog{}).
			Where("user_id = ? AND status = ? AND scheduled_time >= ?", userID, string(status), since.UTC()).
			Count(&count).Error
		return count, err
	})
}

// UpdateMedlog saves medlog fields
func (s *Store) UpdateMedlog(ctx context.Context, log *Medlog) error {
	_, err := guard(s, func() (struct{}, error) {
		normalizeMedlog(log)
		return struct{}{}, s.db.WithContext(ctx).Save(log).Error
	})
	return err
}

// DeleteMedlog removes a medlog
func (s *Store) DeleteMedlog(ctx context.Context, id string) error {
	_, err := guard(s, func() (struct{}, error) {
		res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Medlog{})
		if res.Error != nil {
			return struct{}{}, res.Error
		}
		if res.RowsAffected == 0 {
			return struct{}{}, apperrors.ErrMedlogNotFound
		}
		return struct{}{}, nil
	})
	return err
}
