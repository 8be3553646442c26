// Package router connects chat platform adapters to the bot's command
// handler. Each inbound message is dispatched on its own goroutine; the
// router itself holds no per-channel state.
package router

import (
	"context"
	"fmt"
	"log"
)

// Message is a normalized inbound chat message
type Message struct {
	ID        string            // Platform-specific message ID
	Platform  string            // Platform name: "matrix", "telegram", "discord"
	ChannelID string            // Channel/room/chat ID
	UserID    string            // Sender identity used for the allowlist
	Username  string            // Display name
	Text      string            // Message text
	Metadata  map[string]string // Platform-specific extras
}

// Response is an outbound text message
type Response struct {
	Text     string
	Markdown bool // Render as markdown where the platform supports it
}

// Image is an outbound image attachment
type Image struct {
	Filename string
	MimeType string
	Data     []byte
	Width    int
	Height   int
}

// Conn is the send-side of a platform connection
type Conn interface {
	Send(ctx context.Context, channelID string, resp Response) error
	SendImage(ctx context.Context, channelID string, img Image) error
}

// Platform is a chat platform adapter
type Platform interface {
	Conn
	Name() string
	SetMessageHandler(handler func(msg Message))
	Start(ctx context.Context) error
	Stop() error
}

// Handler processes one inbound message and replies through the given Conn
type Handler interface {
	Handle(ctx context.Context, conn Conn, msg Message)
}

// Router fans messages from all registered platforms into a single handler
type Router struct {
	platforms []Platform
	handler   Handler
}

// New creates a router delivering messages to handler
func New(handler Handler) *Router {
	return &Router{handler: handler}
}

// AddPlatform registers a platform adapter
func (r *Router) AddPlatform(p Platform) {
	p.SetMessageHandler(func(msg Message) {
		go r.handler.Handle(context.Background(), p, msg)
	})
	r.platforms = append(r.platforms, p)
}

// Start starts all registered platforms
func (r *Router) Start(ctx context.Context) error {
	if len(r.platforms) == 0 {
		return fmt.Errorf("no platforms configured")
	}
	for _, p := range r.platforms {
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", p.Name(), err)
		}
	}
	return nil
}

// Stop stops all registered platforms
func (r *Router) Stop() {
	for _, p := range r.platforms {
		if err := p.Stop(); err != nil {
			log.Printf("[Router] Error stopping %s: %v", p.Name(), err)
		}
	}
}
