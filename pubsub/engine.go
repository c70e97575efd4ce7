// Package pubsub implements the engine facade (C5): lifecycle, the
// subscriber registry, the retention sweep, and the ordering contracts
// that tie the batching writer and the session subscribers together.
package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/seuros/solid-mcp-go/config"
	"github.com/seuros/solid-mcp-go/mcperr"
	"github.com/seuros/solid-mcp-go/message"
	"github.com/seuros/solid-mcp-go/store"
	"github.com/seuros/solid-mcp-go/subscriber"
	"github.com/seuros/solid-mcp-go/writer"
)

// engineOptions are applied at construction time only; they configure
// behavior that Config's functional options intentionally do not cover
// (e.g. whether to auto-migrate a freshly opened SQLite database).
type engineOptions struct {
	logger            *slog.Logger
	autoMigrateSQLite bool
}

// EngineOption mutates engine construction-time behavior.
type EngineOption func(*engineOptions)

// WithLogger threads a *slog.Logger through the engine, writer, and every
// subscriber loop. The zero value uses slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(o *engineOptions) { o.logger = l }
}

// WithAutoMigrateSQLite opts into creating the schema on first connect for
// the embedded backend. Spec's default assumption is that the schema was
// provisioned externally; this is for tests and the demo binary, which
// need a runnable database with no external setup step.
func WithAutoMigrateSQLite(enabled bool) EngineOption {
	return func(o *engineOptions) { o.autoMigrateSQLite = enabled }
}

// Engine is the pub/sub facade: it owns the store handle, the batching
// writer, and the per-session subscriber registry.
type Engine struct {
	store  store.Store
	cfg    *config.Config
	writer *writer.Writer
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]*subscriber.Subscriber
}

// New constructs an Engine from cfg, opening the backend cfg.StoreURL
// selects and starting the writer's background worker.
func New(ctx context.Context, cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	o := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	st, err := openStore(ctx, cfg, o.autoMigrateSQLite)
	if err != nil {
		return nil, err
	}

	return newWithStore(st, cfg, o), nil
}

// NewWithStore wires an Engine around an already-open store, letting
// multiple engines (or engine and demo tooling) share one connection pool,
// as spec §4.1 allows.
func NewWithStore(st store.Store, cfg *config.Config, opts ...EngineOption) *Engine {
	o := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return newWithStore(st, cfg, o)
}

func newWithStore(st store.Store, cfg *config.Config, o *engineOptions) *Engine {
	w := writer.New(st, cfg.BatchSize, cfg.MaxQueueSize, cfg.DeadLetterCapacity, o.logger)

	return &Engine{
		store:       st,
		cfg:         cfg,
		writer:      w,
		logger:      o.logger,
		subscribers: make(map[string]*subscriber.Subscriber),
	}
}

// Publish constructs a Message and hands it to the writer via the
// non-blocking path. It returns the writer's boolean: false means the
// queue was full and the message was dropped.
func (e *Engine) Publish(sessionID, eventType, data string) (bool, error) {
	return e.writer.Enqueue(message.New(sessionID, eventType, data))
}

// PublishBlocking is the backpressure path: it waits for queue capacity
// instead of dropping. ctx should carry a deadline: a ctx that never
// cancels can, if Shutdown runs while the queue is saturated, hold the
// writer's closing gate open until capacity frees on its own.
func (e *Engine) PublishBlocking(ctx context.Context, sessionID, eventType, data string) error {
	return e.writer.EnqueueBlocking(ctx, message.New(sessionID, eventType, data))
}

// Subscribe starts a subscriber for sessionID and registers it. It fails
// with a ConfigError if sessionID is already subscribed.
func (e *Engine) Subscribe(ctx context.Context, sessionID string, cb subscriber.Callback) error {
	e.mu.Lock()
	if _, exists := e.subscribers[sessionID]; exists {
		e.mu.Unlock()
		return mcperr.NewConfigError("already subscribed to session %s", sessionID)
	}
	// Reserve the slot before releasing the lock so two concurrent
	// Subscribe calls for the same session cannot both pass the
	// existence check.
	e.subscribers[sessionID] = nil
	e.mu.Unlock()

	sub, err := subscriber.New(ctx, sessionID, e.store, e.cfg.PollingInterval, e.cfg.MaxListenReconnectAttempts, e.logger, cb)

	e.mu.Lock()
	// A concurrent Unsubscribe may have run the reserved placeholder
	// while subscriber.New was still in flight, deleting the key
	// entirely rather than just leaving it nil. Detect that with the
	// comma-ok form so we don't resurrect a subscriber the caller
	// already asked to stop.
	if _, stillReserved := e.subscribers[sessionID]; !stillReserved {
		e.mu.Unlock()
		if err == nil {
			sub.Stop()
		}
		return err
	}
	defer e.mu.Unlock()
	if err != nil {
		delete(e.subscribers, sessionID)
		return err
	}
	e.subscribers[sessionID] = sub
	return nil
}

// Unsubscribe removes sessionID's subscriber and stops it outside the
// registry lock. Unsubscribing an unknown session is a silent success.
func (e *Engine) Unsubscribe(sessionID string) {
	e.mu.Lock()
	sub := e.subscribers[sessionID]
	delete(e.subscribers, sessionID)
	e.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
}

// IsSubscribed reports whether sessionID currently has an active
// subscriber.
func (e *Engine) IsSubscribed(sessionID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sub, ok := e.subscribers[sessionID]
	return ok && sub != nil
}

// SubscriptionCount returns the number of active subscribers.
func (e *Engine) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, sub := range e.subscribers {
		if sub != nil {
			n++
		}
	}
	return n
}

// Flush delegates to the writer: it resolves once every message enqueued
// strictly before this call has been persisted or reported as dropped.
func (e *Engine) Flush(ctx context.Context) error {
	return e.writer.Flush(ctx)
}

// MarkDelivered stamps the given ids as delivered.
func (e *Engine) MarkDelivered(ctx context.Context, ids []int64) error {
	return e.store.MarkDelivered(ctx, ids)
}

// Cleanup runs both retention sweepers (C6) with the configured
// retentions and returns (deliveredRemoved, undeliveredRemoved). The core
// never schedules this itself; an external scheduler decides cadence.
func (e *Engine) Cleanup(ctx context.Context) (int64, int64, error) {
	delivered, err := e.store.CleanupDelivered(ctx, e.cfg.DeliveredRetention)
	if err != nil {
		return 0, 0, err
	}
	undelivered, err := e.store.CleanupUndelivered(ctx, e.cfg.UndeliveredRetention)
	if err != nil {
		return delivered, 0, err
	}
	return delivered, undelivered, nil
}

// DroppedBatches exposes the writer's dead-letter ring, if enabled via
// config.WithDeadLetterCapacity.
func (e *Engine) DroppedBatches() []writer.DroppedBatch {
	return e.writer.DroppedBatches()
}

// Shutdown stops every subscriber, then shuts down the writer (which
// flushes whatever remains), then closes the store. It must only be
// called once; a second call is the caller's bug, not a defended-against
// scenario.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	subs := make([]*subscriber.Subscriber, 0, len(e.subscribers))
	for _, sub := range e.subscribers {
		if sub != nil {
			subs = append(subs, sub)
		}
	}
	e.subscribers = make(map[string]*subscriber.Subscriber)
	e.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}

	if err := e.writer.Shutdown(ctx); err != nil {
		return err
	}

	return e.store.Close()
}
