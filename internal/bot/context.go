package bot

import (
	"fmt"
	"time"

	"github.com/mattsolo/matrix-aibot/internal/history"
	"github.com/mattsolo/matrix-aibot/internal/provider"
)

// TruncatePolicy bounds the history included in a chat request.
type TruncatePolicy func([]history.Turn) []history.Turn

// NoTruncation is the default policy: the full history is sent on every
// request, growing until explicitly cleared.
func NoTruncation(turns []history.Turn) []history.Turn {
	return turns
}

// LastN keeps only the most recent n turns.
func LastN(n int) TruncatePolicy {
	return func(turns []history.Turn) []history.Turn {
		if n <= 0 || len(turns) <= n {
			return turns
		}
		return turns[len(turns)-n:]
	}
}

// buildChatContext assembles the ordered message list for a chat request:
// the channel's system prompt (if any), then every stored turn in ascending
// timestamp order. The new user turn is persisted before the read so it
// arrives through the same query as the rest of the history.
func (b *Bot) buildChatContext(channel, prompt string) ([]provider.ChatMessage, error) {
	if _, err := b.store.Append(channel, history.RoleUser, prompt, time.Now()); err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}

	systemPrompt, err := b.store.SystemPrompt(channel)
	if err != nil {
		return nil, fmt.Errorf("read system prompt: %w", err)
	}

	turns, err := b.store.Read(channel)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	turns = b.truncate(turns)

	messages := make([]provider.ChatMessage, 0, len(turns)+1)
	if systemPrompt != "" {
		messages = append(messages, provider.ChatMessage{Role: history.RoleSystem, Content: systemPrompt})
	}
	for _, turn := range turns {
		messages = append(messages, provider.ChatMessage{Role: turn.Role, Content: turn.Message})
	}
	return messages, nil
}
