package store

import (
	"context"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
)

// ==================== Notification Methods ====================

func (s *Store) CreateNotification(ctx context.Context, n *Notification) error {
	_, err := guard(s, func() (struct{}, error) {
		return struct{}{}, s.db.WithContext(ctx).Create(n).Error
	})
	return err
}

func (s *Store) GetNotification(ctx context.Context, id string) (*Notification, error) {
	return guard(s, func() (*Notification, error) {
		var n Notification
		if err := s.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
			return nil, notFound(err, apperrors.ErrNotificationNotFound)
		}
		return &n, nil
	})
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	return guard(s, func() ([]Notification, error) {
		var ns []Notification
		query := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
		if limit > 0 {
			query = query.Limit(limit)
		}
		err := query.Find(&ns).Error
		return ns, err
	})
}

func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	_, err := guard(s, func() (struct{}, error) {
		res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Notification{})
		if res.Error != nil {
			return struct{}{}, res.Error
		}
		if res.RowsAffected == 0 {
			return struct{}{}, apperrors.ErrNotificationNotFound
		}
		return struct{}{}, nil
	})
	return err
}
