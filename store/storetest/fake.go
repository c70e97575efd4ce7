// Package storetest provides an in-memory store.Store used by the
// writer and subscriber package tests, so those tests can
// exercise ordering and failure behavior without a real database.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/seuros/solid-mcp-go/message"
	"github.com/seuros/solid-mcp-go/store"
)

// Fake is a minimal, non-concurrent-safe-by-design-except-mutex
// implementation of store.Store backed by a slice. It never supports
// push; its Listen always errors.
type Fake struct {
	mu       sync.Mutex
	messages []message.Message
	nextID   int64

	// InsertErr, when set, is returned by the next InsertBatch call and
	// then cleared, letting tests simulate exactly one failed write.
	InsertErr error

	// InsertBatches records each batch passed to InsertBatch, in order,
	// so tests can assert on how the writer coalesced messages.
	InsertBatches [][]message.Message

	// Gate, when non-nil, blocks each InsertBatch call until a value is
	// sent or the channel is closed, letting a test hold the writer's
	// single in-flight write open to exercise queue-full behavior
	// deterministically.
	Gate chan struct{}
}

func New() *Fake {
	return &Fake{}
}

func (f *Fake) InsertBatch(_ context.Context, msgs []message.Message) error {
	if f.Gate != nil {
		<-f.Gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.InsertBatches = append(f.InsertBatches, append([]message.Message(nil), msgs...))

	if f.InsertErr != nil {
		err := f.InsertErr
		f.InsertErr = nil
		return err
	}

	for i := range msgs {
		f.nextID++
		msgs[i].ID = f.nextID
		f.messages = append(f.messages, msgs[i])
	}
	return nil
}

func (f *Fake) FetchAfter(_ context.Context, sessionID string, afterID int64, limit int) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []message.Message
	for _, m := range f.messages {
		if m.SessionID != sessionID || m.ID <= afterID {
			continue
		}
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) MarkDelivered(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	now := time.Now().UTC()
	for i := range f.messages {
		if set[f.messages[i].ID] && f.messages[i].DeliveredAt == nil {
			f.messages[i].DeliveredAt = &now
		}
	}
	return nil
}

func (f *Fake) CleanupDelivered(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var kept []message.Message
	var removed int64
	for _, m := range f.messages {
		if m.DeliveredAt != nil && m.DeliveredAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	f.messages = kept
	return removed, nil
}

func (f *Fake) CleanupUndelivered(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var kept []message.Message
	var removed int64
	for _, m := range f.messages {
		if m.DeliveredAt == nil && m.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	f.messages = kept
	return removed, nil
}

func (f *Fake) MaxID(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextID, nil
}

func (f *Fake) SupportsPush() bool { return false }

func (f *Fake) Listen(_ context.Context, _ string) (store.Listener, error) {
	return nil, store.ErrPushUnsupported
}

func (f *Fake) Close() error { return nil }

var _ store.Store = (*Fake)(nil)
