package store

import (
	"context"
	"strings"

	"gorm.io/gorm"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
)

// ==================== User Methods ====================

// CreateUser inserts a user; the email must be unused.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	_, err := guard(s, func() (struct{}, error) {
		var count int64
		email := strings.ToLower(strings.TrimSpace(user.Email))
		if err := s.db.WithContext(ctx).Model(&User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return struct{}{}, err
		}
		if count > 0 {
			return struct{}{}, apperrors.ErrEmailTaken
		}
		return struct{}{}, s.db.WithContext(ctx).Create(user).Error
	})
	return err
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	return guard(s, func() (*User, error) {
		var user User
		if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
			return nil, notFound(err, apperrors.ErrUserNotFound)
		}
		return &user, nil
	})
}

// GetUserByEmail retrieves a user by login email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return guard(s, func() (*User, error) {
		var user User
		err := s.db.WithContext(ctx).First(&user, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
		if err != nil {
			return nil, notFound(err, apperrors.ErrUserNotFound)
		}
		return &user, nil
	})
}

// UserExists reports whether a user record exists.
func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	return guard(s, func() (bool, error) {
		var count int64
		if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return false, err
		}
		return count > 0, nil
	})
}

// ListUsers lists users with pagination
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	return guard(s, func() ([]User, error) {
		var users []User
		err := s.db.WithContext(ctx).Order("created_at ASC").Limit(limit).Offset(offset).Find(&users).Error
		return users, err
	})
}

// UpdateUser saves changed user fields. A changed email must stay unique.
func (s *Store) UpdateUser(ctx context.Context, user *User) error {
	_, err := guard(s, func() (struct{}, error) {
		user.Email = strings.ToLower(strings.TrimSpace(user.Email))
		var count int64
		if err := s.db.WithContext(ctx).Model(&User{}).
			Where("email = ? AND id <> ?", user.Email, user.ID).
			Count(&count).Error; err != nil {
			return struct{}{}, err
		}
		if count > 0 {
			return struct{}{}, apperrors.ErrEmailTaken
		}
		return struct{}{}, s.db.WithContext(ctx).Save(user).Error
	})
	return err
}

// DeleteUser removes a user and everything the user owns.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	_, err := guard(s, func() (struct{}, error) {
		return struct{}{}, s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Where("id = ?", id).Delete(&User{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperrors.ErrUserNotFound
			}
			for _, model := range []interface{}{&Notification{}, &Medlog{}, &Schedule{}, &Device{}} {
				if err := tx.Where("user_id = ?", id).Delete(model).Error; err != nil {
					return err
				}
			}
			return nil
		})
	})
	return err
}
