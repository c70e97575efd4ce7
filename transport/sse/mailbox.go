package sse

import (
	"sync"
	"time"

	"github.com/seuros/solid-mcp-go/message"
)

// mailboxDrainLimit bounds how many messages one wakeup drains in a row,
// smoothing bursts without letting one connection starve the others.
const mailboxDrainLimit = 64

// mailbox decouples one SSE connection's subscriber.Callback invocation
// (which runs on the engine's subscriber goroutine) from the speed at
// which the HTTP client can actually consume bytes. A full mailbox drops
// the newest message rather than blocking the subscriber loop, the same
// backpressure contract the engine's writer uses for publishes.
type mailbox struct {
	ch chan message.Message

	mu     sync.Mutex
	closed bool
}

func newMailbox(capacity int) *mailbox {
	return &mailbox{ch: make(chan message.Message, capacity)}
}

// push is the Callback handed to Engine.Subscribe. It never blocks.
func (m *mailbox) push(msg message.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	select {
	case m.ch <- msg:
	default:
	}
}

// drain blocks until at least one message is available, ctx/timeout
// fires, or the mailbox is closed, then returns every message it can pull
// without blocking, up to mailboxDrainLimit.
func (m *mailbox) drain(wake <-chan time.Time, stop <-chan struct{}) ([]message.Message, bool) {
	select {
	case first, ok := <-m.ch:
		if !ok {
			return nil, false
		}
		out := []message.Message{first}
		for i := 0; i < mailboxDrainLimit-1; i++ {
			select {
			case next := <-m.ch:
				out = append(out, next)
			default:
				return out, true
			}
		}
		return out, true

	case <-wake:
		return nil, true

	case <-stop:
		return nil, false
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}
