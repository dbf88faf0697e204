package api

import (
	"errors"
	"math"
	"time"

	"github.com/gmsas95/pillpal/internal/adherence"
	"github.com/gmsas95/pillpal/internal/store"
)

var (
	errMissingAuth = errors.New("missing authorization header")
	errRevoked     = errors.New("token revoked")
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// loginRequest accepts JSON or an OAuth2 password form, where the email
// travels as "username".
type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type updateUserRequest struct {
	Name             *string `json:"name"`
	Email            *string `json:"email"`
	Password         *string `json:"password"`
	TelegramChatID   *int64  `json:"telegram_chat_id"`
	DiscordChannelID *string `json:"discord_channel_id"`
}

type deviceRequest struct {
	Name   string `json:"name"`
	ChipID string `json:"chip_id"`
}

type scheduleRequest struct {
	DeviceID   *string `json:"device_id"`
	PillName   *string `json:"pillname"`
	DoseTime   *string `json:"dose_time"`
	RepeatDays *int    `json:"repeat_days"`
}

type medlogRequest struct {
	ScheduleID    *string    `json:"schedule_id"`
	PillName      string     `json:"pillname"`
	Status        string     `json:"status"`
	ScheduledTime *time.Time `json:"scheduled_time"`
	TakenAt       *time.Time `json:"taken_at"`
}

type medlogUpdateRequest struct {
	Status        *string    `json:"status"`
	ScheduledTime *time.Time `json:"scheduled_time"`
	TakenAt       *time.Time `json:"taken_at"`
}

type notificationRequest struct {
	Message string `json:"message"`
}

type heartbeatResponse struct {
	ChipID   string    `json:"chip_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// scheduleView renders dose_time as "HH:MM:SS".
type scheduleView struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	DeviceID   string    `json:"device_id"`
	PillName   string    `json:"pillname"`
	DoseTime   string    `json:"dose_time"`
	RepeatDays int       `json:"repeat_days"`
	CreatedAt  time.Time `json:"created_at"`
}

func viewSchedule(s store.Schedule) scheduleView {
	return scheduleView{
		ID:         s.ID,
		UserID:     s.UserID,
		DeviceID:   s.DeviceID,
		PillName:   s.PillName,
		DoseTime:   s.DoseTime.String(),
		RepeatDays: s.RepeatDays,
		CreatedAt:  s.CreatedAt,
	}
}

func viewSchedules(scheds []store.Schedule) []scheduleView {
	out := make([]scheduleView, len(scheds))
	for i := range scheds {
		out[i] = viewSchedule(scheds[i])
	}
	return out
}

type summaryResponse struct {
	UserID             string                `json:"user_id"`
	AdherenceStreak    int                   `json:"adherence_streak"`
	NextDose           *adherence.Occurrence `json:"next_dose"`
	WeeklyAdherence    float64               `json:"weekly_adherence"`
	WeeklyAdherencePct float64               `json:"weekly_adherence_pct"`
	ComputedAt         time.Time             `json:"computed_at"`
}

type streakResponse struct {
	UserID          string `json:"user_id"`
	AdherenceStreak int    `json:"adherence_streak"`
	WindowDays      int    `json:"window_days"`
}

type nextDoseResponse struct {
	UserID   string                `json:"user_id"`
	NextDose *adherence.Occurrence `json:"next_dose"`
}

type weeklyResponse struct {
	UserID             string  `json:"user_id"`
	WeeklyAdherence    float64 `json:"weekly_adherence"`
	WeeklyAdherencePct float64 `json:"weekly_adherence_pct"`
}

// percent converts a [0,1] ratio to a percentage rounded to two places.
func percent(ratio float64) float64 {
	return math.Round(ratio*10000) / 100
}
