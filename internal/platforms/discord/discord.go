// Package discord implements router.Platform for Discord.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"

	"github.com/mattsolo/matrix-aibot/internal/router"
)

// Platform implements router.Platform for Discord
type Platform struct {
	session        *discordgo.Session
	botUserID      string
	messageHandler func(msg router.Message)
	ctx            context.Context
	cancel         context.CancelFunc
}

// Config holds Discord configuration
type Config struct {
	Token string // Bot token from Discord Developer Portal
}

// New creates a new Discord platform
func New(cfg Config) (*Platform, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("Discord bot token is required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	return &Platform{
		session: session,
	}, nil
}

// Name returns the platform name
func (p *Platform) Name() string {
	return "discord"
}

// SetMessageHandler sets the callback for incoming messages
func (p *Platform) SetMessageHandler(handler func(msg router.Message)) {
	p.messageHandler = handler
}

// Start begins listening for Discord events
func (p *Platform) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.session.AddHandler(p.handleMessage)

	if err := p.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	user, err := p.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	p.botUserID = user.ID

	log.Printf("[Discord] Connected as bot: %s", user.Username)
	return nil
}

// Stop shuts down the Discord connection
func (p *Platform) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	return p.session.Close()
}

// Send sends a message to a Discord channel. Discord renders markdown
// natively, so the Markdown flag needs no special handling.
func (p *Platform) Send(ctx context.Context, channelID string, resp router.Response) error {
	_, err := p.session.ChannelMessageSend(channelID, resp.Text)
	return err
}

// SendImage sends an image attachment to a Discord channel
func (p *Platform) SendImage(ctx context.Context, channelID string, img router.Image) error {
	_, err := p.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Files: []*discordgo.File{
			{
				Name:        img.Filename,
				ContentType: img.MimeType,
				Reader:      bytes.NewReader(img.Data),
			},
		},
	})
	return err
}

// handleMessage processes incoming Discord messages
func (p *Platform) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore messages from bots (including ourselves)
	if m.Author.Bot {
		return
	}

	if p.messageHandler != nil {
		p.messageHandler(router.Message{
			ID:        m.ID,
			Platform:  "discord",
			ChannelID: m.ChannelID,
			UserID:    m.Author.ID,
			Username:  m.Author.Username,
			Text:      m.Content,
			Metadata: map[string]string{
				"guild_id": m.GuildID,
			},
		})
	}
}
