// Package telegram implements router.Platform for Telegram.
package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mattsolo/matrix-aibot/internal/router"
)

// Platform implements router.Platform for Telegram
type Platform struct {
	bot            *tgbotapi.BotAPI
	messageHandler func(msg router.Message)
	ctx            context.Context
	cancel         context.CancelFunc
}

// Config holds Telegram configuration
type Config struct {
	Token string // Bot token from @BotFather
	Debug bool   // Enable debug logging
}

// New creates a new Telegram platform
func New(cfg Config) (*Platform, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("Telegram bot token is required")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	bot.Debug = cfg.Debug

	return &Platform{
		bot: bot,
	}, nil
}

// Name returns the platform name
func (p *Platform) Name() string {
	return "telegram"
}

// SetMessageHandler sets the callback for incoming messages
func (p *Platform) SetMessageHandler(handler func(msg router.Message)) {
	p.messageHandler = handler
}

// Start begins listening for Telegram updates
func (p *Platform) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := p.bot.GetUpdatesChan(u)

	go p.handleUpdates(updates)

	log.Printf("[Telegram] Connected as bot: @%s", p.bot.Self.UserName)
	return nil
}

// Stop shuts down the Telegram connection
func (p *Platform) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.bot.StopReceivingUpdates()
	return nil
}

// Send sends a message to a Telegram chat
func (p *Platform) Send(ctx context.Context, channelID string, resp router.Response) error {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, resp.Text)
	if resp.Markdown {
		msg.ParseMode = "Markdown"
	}

	_, err = p.bot.Send(msg)
	return err
}

// SendImage sends an image attachment to a Telegram chat
func (p *Platform) SendImage(ctx context.Context, channelID string, img router.Image) error {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return err
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
		Name:  img.Filename,
		Bytes: img.Data,
	})

	_, err = p.bot.Send(photo)
	return err
}

// handleUpdates processes incoming Telegram updates
func (p *Platform) handleUpdates(updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case update := <-updates:
			if update.Message == nil {
				continue
			}

			// Skip messages from bots
			if update.Message.From.IsBot {
				continue
			}

			text := update.Message.Text
			if text == "" {
				continue
			}

			if p.messageHandler != nil {
				p.messageHandler(router.Message{
					ID:        strconv.Itoa(update.Message.MessageID),
					Platform:  "telegram",
					ChannelID: strconv.FormatInt(update.Message.Chat.ID, 10),
					UserID:    strconv.FormatInt(update.Message.From.ID, 10),
					Username:  update.Message.From.UserName,
					Text:      text,
					Metadata: map[string]string{
						"chat_type": update.Message.Chat.Type,
					},
				})
			}
		}
	}
}

// parseChatID converts a channel ID string to a Telegram chat ID
func parseChatID(channelID string) (int64, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid Telegram chat ID %q: %w", channelID, err)
	}
	return chatID, nil
}
