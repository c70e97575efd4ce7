package pubsub_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/seuros/solid-mcp-go/config"
	"github.com/seuros/solid-mcp-go/message"
	"github.com/seuros/solid-mcp-go/pubsub"
)

func newEngine(t *testing.T) *pubsub.Engine {
	t.Helper()
	cfg := config.New("sqlite://:memory:")
	cfg.PollingInterval = 10 * time.Millisecond

	e, err := pubsub.New(context.Background(), cfg, pubsub.WithAutoMigrateSQLite(true))
	if err != nil {
		t.Fatalf("pubsub.New() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		e.Shutdown(ctx)
	})
	return e
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []message.Message
	if err := e.Subscribe(ctx, "session-1", func(m message.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if ok, err := e.Publish("session-1", "tool_call", `{"n":1}`); err != nil || !ok {
		t.Fatalf("Publish() = (%v, %v), want (true, nil)", ok, err)
	}

	if err := e.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0].EventType != "tool_call" {
		t.Errorf("EventType = %q, want %q", got[0].EventType, "tool_call")
	}
}

func TestDoubleSubscribeFails(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	if err := e.Subscribe(ctx, "session-1", func(message.Message) {}); err != nil {
		t.Fatalf("first Subscribe() error: %v", err)
	}
	if err := e.Subscribe(ctx, "session-1", func(message.Message) {}); err == nil {
		t.Fatal("second Subscribe() for the same session = nil, want a ConfigError")
	}

	if !e.IsSubscribed("session-1") {
		t.Error("IsSubscribed() = false, want true")
	}
	if e.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", e.SubscriptionCount())
	}

	e.Unsubscribe("session-1")
	if e.IsSubscribed("session-1") {
		t.Error("IsSubscribed() = true after Unsubscribe()")
	}
}

func TestCleanupKeepsFreshUndeliveredMessages(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	if ok, err := e.Publish("session-1", "tool_call", "{}"); err != nil || !ok {
		t.Fatalf("Publish() = (%v, %v), want (true, nil)", ok, err)
	}
	if err := e.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	delivered, undelivered, err := e.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}
	if delivered != 0 {
		t.Errorf("delivered = %d, want 0", delivered)
	}
	if undelivered != 0 {
		t.Errorf("undelivered = %d, want 0 (message is fresh)", undelivered)
	}
}
