// Package sse is a demonstration HTTP surface (C8) for the engine: it
// exposes one session's message stream as Server-Sent Events, keeping the
// connection open until the client disconnects and writing a keepalive
// comment whenever MaxWaitTime passes without a message.
package sse

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seuros/solid-mcp-go/message"
	"github.com/seuros/solid-mcp-go/subscriber"
)

// Engine is the slice of the engine's API the handler needs. Its
// Subscribe signature must match *pubsub.Engine's exactly so that type
// satisfies this interface.
type Engine interface {
	Subscribe(ctx context.Context, sessionID string, cb subscriber.Callback) error
	Unsubscribe(sessionID string)
}

// Handler serves GET /sessions/{sessionID}/events.
type Handler struct {
	engine      Engine
	maxWaitTime time.Duration
	logger      *slog.Logger
}

// New builds a Handler. maxWaitTime bounds how long a connection may sit
// idle before the server sends a keepalive comment; it is ordinarily
// config.Config.MaxWaitTime.
func New(engine Engine, maxWaitTime time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, maxWaitTime: maxWaitTime, logger: logger}
}

// Routes mounts the handler's endpoints onto r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/sessions/{sessionID}/events", h.Stream)
}

// Stream subscribes the requesting connection to sessionID and writes
// each delivered message as an SSE "message" event until the client
// disconnects. One subscription is already exclusive per session (Engine
// rejects a second Subscribe), so only one open stream per session is
// possible at a time, matching the engine's one-subscriber-per-session
// contract.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	box := newMailbox(256)
	if err := h.engine.Subscribe(r.Context(), sessionID, box.push); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	// Unsubscribe must join the subscriber goroutine before the mailbox
	// closes: deferred calls run LIFO, so closing second here means
	// Unsubscribe runs first and no push() can land on a closed channel.
	defer box.close()
	defer h.engine.Unsubscribe(sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stop := r.Context().Done()

	for {
		ticker := time.NewTimer(h.maxWaitTime)
		msgs, ok := box.drain(ticker.C, stop)
		ticker.Stop()
		if !ok {
			return
		}

		if len(msgs) == 0 {
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			continue
		}

		for _, m := range msgs {
			// EventType is documented as opaque and otherwise uninterpreted
			// by the core; a caller-supplied "\n" must not be allowed to
			// terminate the event: field early and inject extra frames.
			eventType := strings.NewReplacer("\n", " ", "\r", " ").Replace(m.EventType)
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\n", m.ID, eventType); err != nil {
				return
			}
			for _, line := range strings.Split(m.Data, "\n") {
				if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
					return
				}
			}
			if _, err := fmt.Fprint(w, "\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}
