package app

import (
	"context"
	"errors"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/notify"
	"github.com/gmsas95/pillpal/internal/store"
)

// userDirectory resolves event owners for the chat notifiers.
type userDirectory struct {
	store *store.Store
}

func (d userDirectory) Recipient(ctx context.Context, userID string) (*notify.Recipient, error) {
	user, err := d.store.GetUser(ctx, userID)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &notify.Recipient{
		Name:             user.Name,
		Email:            user.Email,
		TelegramChatID:   user.TelegramChatID,
		DiscordChannelID: user.DiscordChannelID,
	}, nil
}
