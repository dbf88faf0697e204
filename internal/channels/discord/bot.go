// Package discord delivers pillpal notifications to Discord channels.
package discord

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/gmsas95/pillpal/internal/notify"
)

// Discord rejects message bodies above this many characters.
const maxMessageLength = 2000

// Config holds Discord bot configuration
type Config struct {
	Token string

	// AdminChannelID receives events of users without a channel of their
	// own. Empty drops those events.
	AdminChannelID string
	Directory      notify.Directory
	Client         *http.Client // optional
}

// Bot posts notifications over the REST API. No gateway connection is
// opened since the bot only writes.
type Bot struct {
	session        *discordgo.Session
	adminChannelID string
	directory      notify.Directory
	logger         *zap.Logger
}

// NewBot creates a new Discord bot
func NewBot(cfg Config, logger *zap.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	if cfg.Client != nil {
		session.Client = cfg.Client
	}

	return &Bot{session: session, adminChannelID: cfg.AdminChannelID, directory: cfg.Directory, logger: logger}, nil
}

func (b *Bot) Name() string { return "discord" }

// Notify implements notify.Notifier.
func (b *Bot) Notify(ctx context.Context, ev notify.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	channelID, ev, ok, err := notify.Route(ctx, b.directory, ev, ownChannel, b.adminChannelID)
	if err != nil {
		return fmt.Errorf("failed to resolve channel: %w", err)
	}
	if !ok {
		b.logger.Debug("No discord channel for user", zap.String("user_id", ev.UserID))
		return nil
	}
	for _, part := range splitMessage(ev.Text(), maxMessageLength) {
		if _, err := b.session.ChannelMessageSend(channelID, part); err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
	}
	return nil
}

func ownChannel(r *notify.Recipient) string { return r.DiscordChannelID }

// Stop releases the session.
func (b *Bot) Stop() error {
	return b.session.Close()
}

func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > 0 {
		n := limit
		if len(runes) < n {
			n = len(runes)
		}
		parts = append(parts, string(runes[:n]))
		runes = runes[n:]
	}
	return parts
}
