// Package store defines the uniform contract solid-mcp-go's writer and
// subscribers use to talk to either backend (embedded SQLite or networked
// PostgreSQL), and the shared schema/notification-channel naming both
// backends agree on.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/seuros/solid-mcp-go/message"
)

// NotifyPrefix names the side-channel wakeup a push-capable backend emits
// after each insert. The channel name for a session is NotifyPrefix + "_"
// + session ID.
const NotifyPrefix = "solid_mcp"

// ErrPushUnsupported is returned by Listen on a backend whose
// SupportsPush reports false.
var ErrPushUnsupported = errors.New("solid-mcp: backend does not support push")

// Store is the uniform contract over the two supported backends. Every
// method is a suspension point (network or disk I/O); no method may block
// a goroutine scheduler thread.
type Store interface {
	// InsertBatch persists a non-empty list atomically with respect to
	// visibility: once it returns successfully, any subsequent FetchAfter
	// call by any caller observes every inserted row. An empty slice is a
	// no-op. On a push-capable backend, each inserted row triggers a
	// side-channel wakeup carrying the assigned ID.
	InsertBatch(ctx context.Context, msgs []message.Message) error

	// FetchAfter returns up to limit undelivered messages of the given
	// session with ID greater than afterID, ascending by ID.
	FetchAfter(ctx context.Context, sessionID string, afterID int64, limit int) ([]message.Message, error)

	// MarkDelivered stamps DeliveredAt to now for the given IDs. An empty
	// slice is a no-op. Idempotent: re-marking an already-delivered row is
	// harmless.
	MarkDelivered(ctx context.Context, ids []int64) error

	// CleanupDelivered deletes delivered rows older than olderThan,
	// returning the number of rows removed.
	CleanupDelivered(ctx context.Context, olderThan time.Duration) (int64, error)

	// CleanupUndelivered deletes undelivered rows whose CreatedAt is older
	// than olderThan, returning the number of rows removed.
	CleanupUndelivered(ctx context.Context, olderThan time.Duration) (int64, error)

	// MaxID returns the largest ID currently in the store, or 0 if empty.
	MaxID(ctx context.Context) (int64, error)

	// SupportsPush reports whether Listen is usable on this backend.
	SupportsPush() bool

	// Listen opens a long-lived subscription to a session's wakeup
	// channel. Only valid when SupportsPush reports true.
	Listen(ctx context.Context, sessionID string) (Listener, error)

	// Close releases the backend's connection pool and any dedicated
	// connections.
	Close() error
}

// Listener is a long-lived subscription to one session's wakeup channel.
type Listener interface {
	// Notifications yields one int64 per wakeup, carrying the advisory ID
	// of the newly inserted row. The channel is closed when the listener
	// is closed or the underlying connection fails.
	Notifications() <-chan int64

	// Err returns the error that closed Notifications, if any. Safe to
	// call only after Notifications has been drained/closed.
	Err() error

	// Close releases the listener's dedicated connection.
	Close() error
}
