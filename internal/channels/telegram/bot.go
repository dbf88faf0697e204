// Package telegram delivers pillpal notifications to Telegram chats.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/gmsas95/pillpal/internal/notify"
)

// Config holds Telegram bot configuration
type Config struct {
	Token string

	// AdminChatID receives events of users without a chat of their own.
	// Zero drops those events.
	AdminChatID int64
	Directory   notify.Directory
	Endpoint    string // optional API endpoint override, same format as tgbotapi.APIEndpoint
}

// Bot sends notifications through the Bot API
type Bot struct {
	api         *tgbotapi.BotAPI
	adminChatID int64
	directory   notify.Directory
	logger      *zap.Logger
}

// NewBot authenticates the token with getMe.
func NewBot(cfg Config, logger *zap.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = false

	logger.Info("Telegram notifier ready", zap.String("username", api.Self.UserName))

	return &Bot{api: api, adminChatID: cfg.AdminChatID, directory: cfg.Directory, logger: logger}, nil
}

func (b *Bot) Name() string { return "telegram" }

// Notify implements notify.Notifier. The event goes to its owner's chat,
// else to the admin chat.
func (b *Bot) Notify(ctx context.Context, ev notify.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, ev, ok, err := notify.Route(ctx, b.directory, ev, ownChat, b.adminChatID)
	if err != nil {
		return fmt.Errorf("failed to resolve chat: %w", err)
	}
	if !ok {
		b.logger.Debug("No telegram chat for user", zap.String("user_id", ev.UserID))
		return nil
	}
	_, err = b.sendMessage(chatID, ev.Text())
	return err
}

func ownChat(r *notify.Recipient) int64 { return r.TelegramChatID }

func (b *Bot) sendMessage(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	sent, err := b.api.Send(msg)
	if err != nil {
		// Try without markdown if it fails
		msg.ParseMode = ""
		sent, err = b.api.Send(msg)
		if err != nil {
			return 0, err
		}
	}

	return sent.MessageID, nil
}
