package amqp

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
)

type fakePublisher struct {
	calls []string
	err   error
}

func (f *fakePublisher) PublishBlocking(_ context.Context, sessionID, eventType, data string) error {
	f.calls = append(f.calls, sessionID+"/"+eventType+"/"+data)
	return f.err
}

func newTestAdapter(t *testing.T, pub *fakePublisher) *Adapter {
	t.Helper()
	dedup, err := lru.New[string, struct{}](16)
	if err != nil {
		t.Fatalf("lru.New() error: %v", err)
	}
	cfg := DefaultConfig("amqp://unused", "unused")
	return &Adapter{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(discardWriter{}, nil)),
		pub:    pub,
		dedup:  dedup,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "test",
			ReadyToTrip: func(c gobreaker.Counts) bool { return false },
		}),
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestHandlePublishesDecodedPayload(t *testing.T) {
	pub := &fakePublisher{}
	a := newTestAdapter(t, pub)

	msg := message.NewMessage("msg-1", []byte(`{"session_id":"s1","event_type":"tool_call","data":"{}"}`))
	if err := a.handle(msg); err != nil {
		t.Fatalf("handle() error: %v", err)
	}
	if len(pub.calls) != 1 || pub.calls[0] != "s1/tool_call/{}" {
		t.Fatalf("calls = %v, want one call for s1/tool_call/{}", pub.calls)
	}
}

func TestHandleDedupsRepeatedMessageID(t *testing.T) {
	pub := &fakePublisher{}
	a := newTestAdapter(t, pub)

	msg := message.NewMessage("msg-1", []byte(`{"session_id":"s1","event_type":"a","data":"1"}`))
	if err := a.handle(msg); err != nil {
		t.Fatalf("first handle() error: %v", err)
	}
	if err := a.handle(msg); err != nil {
		t.Fatalf("second handle() error: %v", err)
	}
	if len(pub.calls) != 1 {
		t.Fatalf("len(calls) = %d, want 1 (second delivery should be deduped)", len(pub.calls))
	}
}

func TestHandleDropsUndecodableMessage(t *testing.T) {
	pub := &fakePublisher{}
	a := newTestAdapter(t, pub)

	msg := message.NewMessage("msg-2", []byte(`not json`))
	if err := a.handle(msg); err != nil {
		t.Fatalf("handle() = %v, want nil (poison messages are acked, not retried)", err)
	}
	if len(pub.calls) != 0 {
		t.Fatalf("len(calls) = %d, want 0", len(pub.calls))
	}
}

func TestHandleDropsMessageWithoutSessionID(t *testing.T) {
	pub := &fakePublisher{}
	a := newTestAdapter(t, pub)

	msg := message.NewMessage("msg-3", []byte(`{"event_type":"a","data":"1"}`))
	if err := a.handle(msg); err != nil {
		t.Fatalf("handle() = %v, want nil", err)
	}
	if len(pub.calls) != 0 {
		t.Fatalf("len(calls) = %d, want 0", len(pub.calls))
	}
}

func TestHandleReturnsErrorOnPublishFailureToTriggerRetry(t *testing.T) {
	pub := &fakePublisher{err: errors.New("store unavailable")}
	a := newTestAdapter(t, pub)

	msg := message.NewMessage("msg-4", []byte(`{"session_id":"s1","event_type":"a","data":"1"}`))
	if err := a.handle(msg); err == nil {
		t.Fatal("handle() = nil, want an error so Watermill retries/nacks")
	}
}
