package store

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
)

// Status is the outcome recorded for a dose.
type Status string

const (
	StatusTaken  Status = "taken"
	StatusMissed Status = "missed"
)

// ParseStatus accepts only the closed set {taken, missed}.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusTaken:
		return StatusTaken, nil
	case StatusMissed:
		return StatusMissed, nil
	}
	return "", apperrors.ErrInvalidStatus.WithCause(fmt.Errorf("unrecognized status %q", s))
}

func (s Status) Valid() bool {
	return s == StatusTaken || s == StatusMissed
}

// Scan rejects rows whose status is outside the closed set instead of
// letting them silently drop out of ratio computations.
func (s *Status) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Status", src)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, apperrors.ErrInvalidStatus.WithCause(fmt.Errorf("unrecognized status %q", string(s)))
	}
	return string(s), nil
}

// Device liveness states
const (
	DeviceOnline  = "online"
	DeviceOffline = "offline"
)

// User is a registered patient or caregiver
type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Name         string    `gorm:"size:100;not null" json:"name"`
	Email        string    `gorm:"size:150;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"size:20;default:patient" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Where chat alerts for this user go. Unset means the operator's
	// admin chat, if any.
	TelegramChatID   int64  `json:"telegram_chat_id,omitempty"`
	DiscordChannelID string `gorm:"size:32" json:"discord_channel_id,omitempty"`
}

// Device is a paired pill dispenser
type Device struct {
	ID       string     `gorm:"primaryKey;size:36" json:"id"`
	UserID   string     `gorm:"size:36;index;not null" json:"user_id"`
	Name     string     `gorm:"size:100;not null" json:"name"`
	ChipID   string     `gorm:"size:100;uniqueIndex;not null" json:"chip_id"`
	Status   string     `gorm:"size:10;default:offline;index" json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	APIKey   string     `gorm:"size:64;not null" json:"api_key,omitempty"`
	PairedAt time.Time  `gorm:"autoCreateTime" json:"paired_at"`
}

// Schedule is a recurring dose definition
type Schedule struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	UserID     string         `gorm:"size:36;index;not null" json:"user_id"`
	DeviceID   string         `gorm:"size:36;index;not null" json:"device_id"`
	PillName   string         `gorm:"column:pillname;size:100;not null" json:"pillname"`
	DoseTime   datatypes.Time `gorm:"not null" json:"dose_time"`
	RepeatDays int            `gorm:"default:0" json:"repeat_days"` // weekday mask, bit 0 = Sunday; 0 = every day
	CreatedAt  time.Time      `json:"created_at"`
}

// Medlog records one dose event
type Medlog struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	UserID        string     `gorm:"size:36;index:idx_medlog_user_sched,priority:1;not null" json:"user_id"`
	DeviceID      string     `gorm:"size:36;index;not null" json:"device_id"`
	ScheduleID    *string    `gorm:"size:36" json:"schedule_id,omitempty"`
	PillName      string     `gorm:"column:pillname;size:100" json:"pillname"`
	Status        Status     `gorm:"size:20;not null" json:"status"`
	ScheduledTime time.Time  `gorm:"index:idx_medlog_user_sched,priority:2;not null" json:"scheduled_time"`
	TakenAt       *time.Time `json:"taken_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Notification is a device-originated message for a user
type Notification struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:36;index;not null" json:"user_id"`
	DeviceID  string    `gorm:"size:36;index" json:"device_id"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate hook for User
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = "patient"
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	return nil
}

// BeforeCreate hook for Device
func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DeviceOffline
	}
	if d.APIKey == "" {
		d.APIKey = NewAPIKey()
	}
	return nil
}

// BeforeCreate hook for Schedule
func (s *Schedule) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// BeforeCreate hook for Medlog
func (m *Medlog) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// BeforeSave hook for Medlog
func (m *Medlog) BeforeSave(tx *gorm.DB) error {
	if !m.Status.Valid() {
		return apperrors.ErrInvalidStatus.WithCause(fmt.Errorf("unrecognized status %q", string(m.Status)))
	}
	return nil
}

// BeforeCreate hook for Notification
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// NewAPIKey returns a random device API key.
func NewAPIKey() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// ParseDoseTime accepts "HH:MM" or "HH:MM:SS".
func ParseDoseTime(s string) (datatypes.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return datatypes.NewTime(t.Hour(), t.Minute(), t.Second(), 0), nil
		}
	}
	return 0, apperrors.ErrInvalidDoseTime.WithCause(fmt.Errorf("expected HH:MM or HH:MM:SS, got %q", s))
}

// Clock splits a time-of-day into its components.
func Clock(t datatypes.Time) (hour, minute, second int) {
	d := time.Duration(t)
	hour = int(d / time.Hour)
	minute = int(d % time.Hour / time.Minute)
	second = int(d % time.Minute / time.Second)
	return
}
