// Package writer implements the batching writer: a bounded ingress queue
// fronted by a single background worker that coalesces individual publishes
// into multi-row store writes, with explicit flush and shutdown barriers.
package writer

import (
	"container/ring"
	"context"
	"log/slog"
	"sync"

	"github.com/seuros/solid-mcp-go/mcperr"
	"github.com/seuros/solid-mcp-go/message"
	"github.com/seuros/solid-mcp-go/store"
)

// command is the total order of operations the worker goroutine observes on
// its single channel: messages to batch, flush barriers to satisfy, and the
// shutdown signal.
type command struct {
	msg      *message.Message
	flushAck chan<- struct{}
	shutdown bool
}

// DroppedBatch records one batch that failed to persist, surfaced through
// an optional dead-letter ring so operators can inspect recent losses
// without the core committing to durable retry/DLQ semantics (spec §9).
type DroppedBatch struct {
	Messages []message.Message
	Err      error
}

// Writer batches publishes and writes them to the store from a single
// background goroutine, so at most one store write is ever in flight.
type Writer struct {
	cmds   chan command
	done   chan struct{}
	logger *slog.Logger

	mu          sync.Mutex
	deadLetters *ring.Ring

	// closedMu gates Enqueue's check-then-send against the worker's
	// decision to stop reading cmds, so a message can never land in the
	// channel buffer after nothing is left to drain it.
	closedMu sync.RWMutex
	closed   bool
}

// New starts the writer's background worker and returns a handle. The
// worker exits when Shutdown is called.
func New(st store.Store, batchSize, maxQueueSize, deadLetterCapacity int, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}

	w := &Writer{
		cmds:   make(chan command, maxQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	if deadLetterCapacity > 0 {
		w.deadLetters = ring.New(deadLetterCapacity)
	}

	go w.loop(st, batchSize)
	return w
}

// Enqueue tries to place m on the channel without waiting. It returns true
// on success, false if the channel is full — the caller's message is
// dropped and the writer never blocks producers on this path.
func (w *Writer) Enqueue(m message.Message) (bool, error) {
	w.closedMu.RLock()
	defer w.closedMu.RUnlock()

	if w.closed {
		return false, mcperr.ErrShutdown
	}

	select {
	case w.cmds <- command{msg: &m}:
		return true, nil
	default:
		w.logger.Warn("writer queue full, dropping message", "session_id", m.SessionID)
		return false, nil
	}
}

// EnqueueBlocking places m on the channel, waiting for capacity. It is the
// backpressure path: callers that cannot tolerate drops use this instead of
// Enqueue. Like Enqueue, the send is gated by closedMu so a message already
// admitted can never be dropped silently by a concurrent Shutdown; callers
// must pass a ctx with a deadline, since a full queue held open by this
// RLock blocks markClosed until either capacity frees or ctx is done.
func (w *Writer) EnqueueBlocking(ctx context.Context, m message.Message) error {
	w.closedMu.RLock()
	defer w.closedMu.RUnlock()

	if w.closed {
		return mcperr.ErrShutdown
	}

	select {
	case w.cmds <- command{msg: &m}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush places a barrier on the channel and waits for the worker to
// observe it. Because commands are totally ordered on the channel, every
// message enqueued strictly before this call has been persisted or
// reported as dropped by the time Flush returns.
func (w *Writer) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case w.cmds <- command{flushAck: ack}:
	case <-w.done:
		return mcperr.ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-w.done:
		return mcperr.ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown sends the shutdown command and waits for the worker to drain
// and exit. After Shutdown returns, no further call on w is valid.
func (w *Writer) Shutdown(ctx context.Context) error {
	select {
	case w.cmds <- command{shutdown: true}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DroppedBatches returns the dead-letter ring's contents, oldest first. It
// is empty when DeadLetterCapacity is zero.
func (w *Writer) DroppedBatches() []DroppedBatch {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.deadLetters == nil {
		return nil
	}

	var out []DroppedBatch
	w.deadLetters.Do(func(v any) {
		if db, ok := v.(DroppedBatch); ok {
			out = append(out, db)
		}
	})
	return out
}

// markClosed flips the closed gate. Taking the write lock here blocks until
// every Enqueue currently mid-send has finished landing its message in the
// channel buffer, so the drain that follows is guaranteed to see it.
func (w *Writer) markClosed() {
	w.closedMu.Lock()
	w.closed = true
	w.closedMu.Unlock()
}

func (w *Writer) recordDrop(batch []message.Message, err error) {
	if w.deadLetters == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deadLetters.Value = DroppedBatch{Messages: append([]message.Message(nil), batch...), Err: err}
	w.deadLetters = w.deadLetters.Next()
}

func (w *Writer) loop(st store.Store, batchSize int) {
	defer close(w.done)

	batch := make([]message.Message, 0, batchSize)
	var waiters []chan<- struct{}

	writeBatch := func() {
		if len(batch) == 0 {
			return
		}
		if err := st.InsertBatch(context.Background(), batch); err != nil {
			w.logger.Error("writer batch write failed, dropping batch", "count", len(batch), "error", err)
			w.recordDrop(batch, err)
		}
		batch = batch[:0]
	}

	signalWaiters := func() {
		for _, ack := range waiters {
			close(ack)
		}
		waiters = waiters[:0]
	}

	for {
		cmd := <-w.cmds

		if cmd.shutdown {
			w.markClosed()
			w.drainRemaining(&batch, &waiters)
			writeBatch()
			signalWaiters()
			return
		}

		switch {
		case cmd.msg != nil:
			batch = append(batch, *cmd.msg)
		case cmd.flushAck != nil:
			waiters = append(waiters, cmd.flushAck)
		}

		forceWrite := cmd.flushAck != nil

	drain:
		for !forceWrite && len(batch) < batchSize {
			select {
			case next := <-w.cmds:
				if next.shutdown {
					w.markClosed()
					w.drainRemaining(&batch, &waiters)
					writeBatch()
					signalWaiters()
					return
				}
				switch {
				case next.msg != nil:
					batch = append(batch, *next.msg)
				case next.flushAck != nil:
					waiters = append(waiters, next.flushAck)
					forceWrite = true
				}
			default:
				break drain
			}
		}

		writeBatch()
		signalWaiters()
	}
}

// drainRemaining non-blockingly drains whatever is left on the channel into
// batch/waiters, used on the shutdown path so nothing enqueued just before
// Shutdown is silently lost.
func (w *Writer) drainRemaining(batch *[]message.Message, waiters *[]chan<- struct{}) {
	for {
		select {
		case cmd := <-w.cmds:
			switch {
			case cmd.msg != nil:
				*batch = append(*batch, *cmd.msg)
			case cmd.flushAck != nil:
				*waiters = append(*waiters, cmd.flushAck)
			}
		default:
			return
		}
	}
}
