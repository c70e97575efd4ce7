package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seuros/solid-mcp-go/message"
	"github.com/seuros/solid-mcp-go/subscriber"
)

// fakeEngine invokes its Subscribe callback once, synchronously, with a
// fixed set of messages, then never calls it again.
type fakeEngine struct {
	msgs []message.Message
}

func (f *fakeEngine) Subscribe(_ context.Context, _ string, cb subscriber.Callback) error {
	for _, m := range f.msgs {
		cb(m)
	}
	return nil
}

func (f *fakeEngine) Unsubscribe(string) {}

// TestStreamSplitsMultiLineDataAcrossRepeatedDataFields guards against
// regressing a message containing "\n" into a malformed SSE frame: every
// line of Data must get its own "data: " prefix, per the SSE spec.
func TestStreamSplitsMultiLineDataAcrossRepeatedDataFields(t *testing.T) {
	msg := message.Message{ID: 7, EventType: "tool_call", Data: "line one\nline two"}
	h := New(&fakeEngine{msgs: []message.Message{msg}}, 20*time.Millisecond, nil)

	r := chi.NewRouter()
	h.Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/sessions/s1/events", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 50*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	body := rec.Body.String()
	want := "id: 7\nevent: tool_call\ndata: line one\ndata: line two\n\n"
	if !strings.Contains(body, want) {
		t.Fatalf("body = %q, want it to contain %q", body, want)
	}
}

// TestStreamStripsNewlinesFromEventType guards against a caller-supplied
// EventType containing "\n" terminating the event: field early and
// injecting an attacker-controlled line into the stream.
func TestStreamStripsNewlinesFromEventType(t *testing.T) {
	msg := message.Message{ID: 9, EventType: "evil\ndata: injected", Data: "x"}
	h := New(&fakeEngine{msgs: []message.Message{msg}}, 20*time.Millisecond, nil)

	r := chi.NewRouter()
	h.Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/sessions/s1/events", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 50*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, "event: evil\ndata: injected\n") {
		t.Fatalf("body = %q, EventType's embedded newline was not sanitized", body)
	}
	if !strings.Contains(body, "event: evil data: injected\n") {
		t.Fatalf("body = %q, want EventType's newline collapsed to a space", body)
	}
}
