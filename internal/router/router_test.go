package router

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakePlatform struct {
	name    string
	handler func(msg Message)
	started bool
	stopped bool
}

func (f *fakePlatform) Name() string                            { return f.name }
func (f *fakePlatform) SetMessageHandler(handler func(Message)) { f.handler = handler }
func (f *fakePlatform) Start(ctx context.Context) error         { f.started = true; return nil }
func (f *fakePlatform) Stop() error                             { f.stopped = true; return nil }
func (f *fakePlatform) Send(ctx context.Context, channelID string, resp Response) error {
	return nil
}
func (f *fakePlatform) SendImage(ctx context.Context, channelID string, img Image) error {
	return nil
}

type recordingHandler struct {
	mu   sync.Mutex
	got  []Message
	done chan struct{}
}

func (h *recordingHandler) Handle(ctx context.Context, conn Conn, msg Message) {
	h.mu.Lock()
	h.got = append(h.got, msg)
	h.mu.Unlock()
	h.done <- struct{}{}
}

func TestRouterDispatchesToHandler(t *testing.T) {
	h := &recordingHandler{done: make(chan struct{}, 1)}
	r := New(h)

	p := &fakePlatform{name: "fake"}
	r.AddPlatform(p)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.started {
		t.Fatalf("platform not started")
	}

	p.handler(Message{Platform: "fake", ChannelID: "c1", Text: "!txtai hi"})

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatalf("handler never invoked")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.got) != 1 || h.got[0].Text != "!txtai hi" {
		t.Fatalf("unexpected dispatch: %+v", h.got)
	}

	r.Stop()
	if !p.stopped {
		t.Fatalf("platform not stopped")
	}
}

func TestStartFailsWithoutPlatforms(t *testing.T) {
	r := New(&recordingHandler{done: make(chan struct{}, 1)})
	if err := r.Start(context.Background()); err == nil {
		t.Fatalf("Start should fail with no platforms configured")
	}
}
