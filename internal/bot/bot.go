// Package bot routes inbound chat commands to the AI provider and posts the
// results back. It holds no mutable state of its own; the history store is
// the only shared resource.
package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattsolo/matrix-aibot/internal/debug"
	"github.com/mattsolo/matrix-aibot/internal/history"
	"github.com/mattsolo/matrix-aibot/internal/provider"
	"github.com/mattsolo/matrix-aibot/internal/router"
)

// User-facing strings. The usage texts are fixed regardless of the
// configured prefix or aliases.
const (
	textUsage       = "Usage: !txtai [prompt for AI]"
	imageUsage      = "Usage: !picai [prompt for AI]"
	setPromptUsage  = "Usage: !manage_txtai system_prompt set [prompt for AI]"
	apologyPrefix   = "Sorry there's been an error: "
	unknownError    = "unknown error"
	confusedMessage = "Something very confusing has happened. Ask the operator to check the logs!"
	internalMessage = "Sorry, something went wrong handling that request."
	imageFailure    = "Sorry. There was an error returning the requested image(s)"
	noHistory       = "No chat history for this channel."
	historyCleared  = "Chat history cleared."
	promptSet       = "System prompt set."
	promptCleared   = "System prompt cleared."
	noPrompt        = "No system prompt set for this channel."
)

// HistoryStore is the persistence contract the bot needs.
type HistoryStore interface {
	Append(channel, role, message string, ts time.Time) (int64, error)
	Read(channel string) ([]history.Turn, error)
	Clear(channel string) error
	SystemPrompt(channel string) (string, error)
	SetSystemPrompt(channel, text string, ts time.Time) error
	ClearSystemPrompt(channel string) error
}

// Provider performs single-shot generation calls.
type Provider interface {
	Complete(ctx context.Context, prompt string) (provider.Result, error)
	Chat(ctx context.Context, messages []provider.ChatMessage) (provider.Result, error)
	GenerateImages(ctx context.Context, prompt string) (provider.Result, error)
}

// Config holds the bot's immutable settings, injected at construction.
type Config struct {
	CommandPrefix   string
	Allowlist       []string
	TextAliases     []string
	ImageAliases    []string
	UseChatEndpoint bool
	ImageWidth      int
	ImageHeight     int
}

// Bot handles inbound commands. Safe for concurrent use; each invocation is
// an independent unit of work.
type Bot struct {
	cfg        Config
	store      HistoryStore
	provider   Provider
	httpClient *http.Client
	truncate   TruncatePolicy
}

// Option customizes a Bot.
type Option func(*Bot)

// WithHTTPClient overrides the client used to download generated images.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bot) { b.httpClient = c }
}

// WithTruncatePolicy bounds the history included in chat requests.
func WithTruncatePolicy(p TruncatePolicy) Option {
	return func(b *Bot) { b.truncate = p }
}

// New creates a Bot.
func New(cfg Config, store HistoryStore, p Provider, opts ...Option) *Bot {
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	b := &Bot{
		cfg:        cfg,
		store:      store,
		provider:   p,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		truncate:   NoTruncation,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type command int

const (
	cmdNone command = iota
	cmdText
	cmdImage
	cmdManage
)

// resolveCommand matches a token against the canonical names and configured
// aliases. Matching is case-sensitive.
func (b *Bot) resolveCommand(token string) command {
	switch {
	case token == "txtai" || contains(b.cfg.TextAliases, token):
		return cmdText
	case token == "picai" || contains(b.cfg.ImageAliases, token):
		return cmdImage
	case token == "manage_txtai":
		return cmdManage
	default:
		return cmdNone
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// splitCommand separates the first token from the raw remainder.
func splitCommand(s string) (token, rest string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

// Handle processes one inbound message. Implements router.Handler.
func (b *Bot) Handle(ctx context.Context, conn router.Conn, msg router.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, b.cfg.CommandPrefix) {
		return
	}
	token, args := splitCommand(strings.TrimPrefix(text, b.cfg.CommandPrefix))

	cmd := b.resolveCommand(token)
	if cmd == cmdNone {
		return
	}

	// Non-members must not learn the bot exists: no reply, no side effect.
	if !contains(b.cfg.Allowlist, msg.UserID) {
		return
	}

	switch cmd {
	case cmdText:
		b.handleText(ctx, conn, msg.ChannelID, args)
	case cmdImage:
		b.handleImage(ctx, conn, msg.ChannelID, args)
	case cmdManage:
		b.handleManage(ctx, conn, msg.ChannelID, args)
	}
}

func (b *Bot) handleText(ctx context.Context, conn router.Conn, channel, prompt string) {
	if prompt == "" {
		b.send(ctx, conn, channel, textUsage, false)
		return
	}

	if b.cfg.UseChatEndpoint {
		b.handleChat(ctx, conn, channel, prompt)
		return
	}

	result, err := b.provider.Complete(ctx, prompt)
	if err != nil {
		b.internalFailure(ctx, conn, channel, err)
		return
	}
	b.logRaw(result)

	switch result.Outcome {
	case provider.OutcomeSuccess:
		// Completions read well as markdown.
		b.send(ctx, conn, channel, result.Text, true)
	case provider.OutcomeProviderError:
		b.send(ctx, conn, channel, apology(result.ErrorMessage), false)
	default:
		b.send(ctx, conn, channel, confusedMessage, false)
	}
}

func (b *Bot) handleChat(ctx context.Context, conn router.Conn, channel, prompt string) {
	messages, err := b.buildChatContext(channel, prompt)
	if err != nil {
		b.internalFailure(ctx, conn, channel, err)
		return
	}

	result, err := b.provider.Chat(ctx, messages)
	if err != nil {
		b.internalFailure(ctx, conn, channel, err)
		return
	}
	b.logRaw(result)

	switch result.Outcome {
	case provider.OutcomeSuccess:
		if _, err := b.store.Append(channel, history.RoleAssistant, result.Text, time.Now()); err != nil {
			b.internalFailure(ctx, conn, channel, fmt.Errorf("append assistant turn: %w", err))
			return
		}
		b.send(ctx, conn, channel, result.Text, false)
	case provider.OutcomeProviderError:
		b.send(ctx, conn, channel, apology(result.ErrorMessage), false)
	default:
		b.send(ctx, conn, channel, confusedMessage, false)
	}
}

func (b *Bot) handleImage(ctx context.Context, conn router.Conn, channel, prompt string) {
	if prompt == "" {
		b.send(ctx, conn, channel, imageUsage, false)
		return
	}

	result, err := b.provider.GenerateImages(ctx, prompt)
	if err != nil {
		b.internalFailure(ctx, conn, channel, err)
		return
	}
	b.logRaw(result)

	switch result.Outcome {
	case provider.OutcomeSuccess:
		// The fetch/attach chain fails as a single unit: one warning in the
		// log, one generic apology in the channel.
		if err := b.sendImages(ctx, conn, channel, result.ImageURLs); err != nil {
			log.Printf("[Bot] Image delivery failed: %v", err)
			b.send(ctx, conn, channel, imageFailure, false)
		}
	case provider.OutcomeProviderError:
		b.send(ctx, conn, channel, apology(result.ErrorMessage), false)
	default:
		b.send(ctx, conn, channel, confusedMessage, false)
	}
}

// sendImages downloads each generated image and posts it as an attachment.
func (b *Bot) sendImages(ctx context.Context, conn router.Conn, channel string, urls []string) error {
	for _, url := range urls {
		data, err := b.fetch(ctx, url)
		if err != nil {
			return err
		}
		img := router.Image{
			Filename: strings.ReplaceAll(uuid.New().String(), "-", "") + ".png",
			MimeType: "image/png",
			Data:     data,
			Width:    b.cfg.ImageWidth,
			Height:   b.cfg.ImageHeight,
		}
		if err := conn.SendImage(ctx, channel, img); err != nil {
			return fmt.Errorf("upload %s: %w", img.Filename, err)
		}
	}
	return nil
}

func (b *Bot) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch image: status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

func (b *Bot) handleManage(ctx context.Context, conn router.Conn, channel, args string) {
	sub, rest := splitCommand(args)
	switch sub {
	case "history":
		b.handleHistory(ctx, conn, channel, rest)
	case "system_prompt":
		b.handleSystemPrompt(ctx, conn, channel, rest)
	default:
		// The management root does nothing on its own.
	}
}

func (b *Bot) handleHistory(ctx context.Context, conn router.Conn, channel, args string) {
	action, _ := splitCommand(args)
	switch action {
	case "show":
		turns, err := b.store.Read(channel)
		if err != nil {
			b.internalFailure(ctx, conn, channel, err)
			return
		}
		if len(turns) == 0 {
			b.send(ctx, conn, channel, noHistory, false)
			return
		}
		b.send(ctx, conn, channel, formatTranscript(turns), false)
	case "clear":
		if err := b.store.Clear(channel); err != nil {
			b.internalFailure(ctx, conn, channel, err)
			return
		}
		b.send(ctx, conn, channel, historyCleared, false)
	}
}

func (b *Bot) handleSystemPrompt(ctx context.Context, conn router.Conn, channel, args string) {
	action, text := splitCommand(args)
	switch action {
	case "set":
		if text == "" {
			b.send(ctx, conn, channel, setPromptUsage, false)
			return
		}
		if err := b.store.SetSystemPrompt(channel, text, time.Now()); err != nil {
			b.internalFailure(ctx, conn, channel, err)
			return
		}
		b.send(ctx, conn, channel, promptSet, false)
	case "clear":
		if err := b.store.ClearSystemPrompt(channel); err != nil {
			b.internalFailure(ctx, conn, channel, err)
			return
		}
		b.send(ctx, conn, channel, promptCleared, false)
	case "show":
		prompt, err := b.store.SystemPrompt(channel)
		if err != nil {
			b.internalFailure(ctx, conn, channel, err)
			return
		}
		if prompt == "" {
			b.send(ctx, conn, channel, noPrompt, false)
			return
		}
		b.send(ctx, conn, channel, prompt, false)
	}
}

// formatTranscript renders stored turns as a readable transcript.
func formatTranscript(turns []history.Turn) string {
	var sb strings.Builder
	for i, turn := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(turn.Role)
		sb.WriteString(": ")
		sb.WriteString(turn.Message)
	}
	return sb.String()
}

func apology(remote string) string {
	if remote == "" {
		remote = unknownError
	}
	return apologyPrefix + remote
}

func (b *Bot) send(ctx context.Context, conn router.Conn, channel, text string, markdown bool) {
	if err := conn.Send(ctx, channel, router.Response{Text: text, Markdown: markdown}); err != nil {
		log.Printf("[Bot] Failed to send reply: %v", err)
	}
}

// internalFailure reports storage or transport problems once and logs the
// underlying error. Never fatal.
func (b *Bot) internalFailure(ctx context.Context, conn router.Conn, channel string, err error) {
	log.Printf("[Bot] Internal error: %v", err)
	b.send(ctx, conn, channel, internalMessage, false)
}

// logRaw logs the full raw provider payload in debug mode. The payload never
// reaches the chat channel.
func (b *Bot) logRaw(result provider.Result) {
	if len(result.Raw) > 0 {
		debug.Log("provider response: %s", string(result.Raw))
	}
}
