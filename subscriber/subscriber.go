// Package subscriber implements the per-session delivery loop: a push
// variant backed by the store's LISTEN/NOTIFY-style wakeup, and a polling
// variant for stores that cannot push.
package subscriber

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/seuros/solid-mcp-go/message"
	"github.com/seuros/solid-mcp-go/store"
)

// Callback is invoked once per delivered message, synchronously on the
// subscriber's own goroutine, in ascending-ID order for its session. It
// must not block for long: an implementer that cannot invoke its
// equivalent cheaply should wrap it in a bounded dispatcher.
type Callback func(message.Message)

// state names the subscriber's lifecycle position; no transition skips a
// step and none runs in reverse.
type state int32

const (
	stateStarting state = iota
	stateRunning
	stateStopping
	stateStopped
)

// fetchLimit is used by the polling loop and by the push loop's steady
// state fetch; the push loop's catch-up phase uses catchUpLimit instead.
const (
	fetchLimit   = 100
	catchUpLimit = 1000

	// shutdownGrace bounds how long Stop waits for the loop goroutine
	// before abandoning it, per spec §4.3.
	shutdownGrace = 5 * time.Second

	// pushTickInterval is how often the push loop re-checks the shutdown
	// flag even while no notification has arrived.
	pushTickInterval = time.Second

	// reconnectResetWindow is how long a listener session must survive
	// before a subsequent disconnect counts as a fresh outage rather than
	// a continuation of the current one; it matches reconnectBackoff's
	// cap so a subscriber that has been stable for a full backoff period
	// gets its full retry budget back.
	reconnectResetWindow = 10 * time.Second
)

// Subscriber owns one session's delivery loop and monotone cursor.
type Subscriber struct {
	sessionID string
	lastID    atomic.Int64
	state     atomic.Int32
	stopCh    chan struct{}
	doneCh    chan struct{}
	logger    *slog.Logger
}

// New starts a subscriber for sessionID. The returned Subscriber's cursor
// starts at store.MaxID, so it never delivers messages that existed before
// this call. It picks the push or poll variant based on st.SupportsPush.
func New(ctx context.Context, sessionID string, st store.Store, pollingInterval time.Duration, maxReconnectAttempts int, logger *slog.Logger, cb Callback) (*Subscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}

	maxID, err := st.MaxID(ctx)
	if err != nil {
		return nil, err
	}

	s := &Subscriber{
		sessionID: sessionID,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		logger:    logger.With("session_id", sessionID),
	}
	s.lastID.Store(maxID)
	s.state.Store(int32(stateStarting))

	if st.SupportsPush() {
		go s.runPush(st, maxReconnectAttempts, cb)
	} else {
		go s.runPoll(st, pollingInterval, cb)
	}
	s.state.Store(int32(stateRunning))

	return s, nil
}

// SessionID returns the session this subscriber delivers for.
func (s *Subscriber) SessionID() string { return s.sessionID }

// LastID returns the subscriber's current monotone cursor.
func (s *Subscriber) LastID() int64 { return s.lastID.Load() }

// State names are exported so callers/tests can observe the lifecycle
// machine described in spec §4.3 without reaching into internals.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateStopped  = "stopped"
)

// State returns the subscriber's current lifecycle position.
func (s *Subscriber) State() string {
	switch state(s.state.Load()) {
	case stateStarting:
		return StateStarting
	case stateRunning:
		return StateRunning
	case stateStopping:
		return StateStopping
	default:
		return StateStopped
	}
}

// Stop requests shutdown and waits up to the grace window for the loop
// goroutine to exit before abandoning it. After Stop returns (with or
// without the goroutine having exited), no further callback invocation
// should be relied on by the caller, but a very slow goroutine is merely
// detached, not killed.
func (s *Subscriber) Stop() {
	s.state.Store(int32(stateStopping))
	close(s.stopCh)

	select {
	case <-s.doneCh:
	case <-time.After(shutdownGrace):
		s.logger.Warn("subscriber did not stop within grace window, abandoning")
	}
	s.state.Store(int32(stateStopped))
}

func (s *Subscriber) deliver(cb Callback, msgs []message.Message) {
	for _, m := range msgs {
		cb(m)
		if m.ID > s.lastID.Load() {
			s.lastID.Store(m.ID)
		}
	}
}

func (s *Subscriber) runPoll(st store.Store, pollingInterval time.Duration, cb Callback) {
	defer close(s.doneCh)

	ctx := context.Background()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		msgs, err := st.FetchAfter(ctx, s.sessionID, s.lastID.Load(), fetchLimit)
		if err != nil {
			s.logger.Error("poll fetch failed", "error", err)
		} else {
			s.deliver(cb, msgs)
		}

		select {
		case <-time.After(pollingInterval):
		case <-s.stopCh:
			return
		}
	}
}

func (s *Subscriber) runPush(st store.Store, maxReconnectAttempts int, cb Callback) {
	defer close(s.doneCh)

	ctx := context.Background()

	// (a) Catch-up phase: close the gap between subscribe time and the
	// moment the wakeup stream is armed.
	msgs, err := st.FetchAfter(ctx, s.sessionID, s.lastID.Load(), catchUpLimit)
	if err != nil {
		s.logger.Error("push catch-up fetch failed", "error", err)
	} else {
		s.deliver(cb, msgs)
	}

	attempt := 0
	for {
		reconnect := true
		armedAt := time.Now()
		listener, err := st.Listen(ctx, s.sessionID)
		if err != nil {
			if attempt == 0 {
				s.logger.Error("failed to arm listener", "error", err)
				return
			}
			// A failed re-arm counts as one reconnect attempt.
			s.logger.Warn("failed to re-arm listener, will retry", "error", err)
		} else {
			reconnect = s.servePush(ctx, st, listener, cb)
			listener.Close()
		}

		if !reconnect {
			return
		}

		if time.Since(armedAt) >= reconnectResetWindow {
			attempt = 0
		}

		attempt++
		if attempt > maxReconnectAttempts {
			s.logger.Error("listener reconnect attempts exhausted, exiting subscriber", "attempts", attempt-1)
			return
		}

		backoff := reconnectBackoff(attempt)
		select {
		case <-time.After(backoff):
		case <-s.stopCh:
			return
		}

		// Re-catch-up so no gap opens across the reconnect.
		msgs, err := st.FetchAfter(ctx, s.sessionID, s.lastID.Load(), catchUpLimit)
		if err != nil {
			s.logger.Error("push reconnect catch-up fetch failed", "error", err)
		} else {
			s.deliver(cb, msgs)
		}
	}
}

// servePush runs the steady-state loop over one armed listener. It returns
// true if the notification stream ended with an error, so the caller should
// re-arm and reconnect, and false if the subscriber should exit entirely
// (explicit stop, or the stream closed without an error).
func (s *Subscriber) servePush(ctx context.Context, st store.Store, listener store.Listener, cb Callback) bool {
	ticker := time.NewTicker(pushTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return false

		case id, ok := <-listener.Notifications():
			if !ok {
				if err := listener.Err(); err != nil {
					s.logger.Warn("listener stream error, will attempt reconnect", "error", err)
					return true
				}
				return false
			}

			// The notified id is an advisory hint; the fetch is always
			// the authoritative source because the store may coalesce
			// wakeups.
			if id > s.lastID.Load() {
				msgs, err := st.FetchAfter(ctx, s.sessionID, s.lastID.Load(), fetchLimit)
				if err != nil {
					s.logger.Error("push fetch failed", "error", err)
					continue
				}
				s.deliver(cb, msgs)
			}

		case <-ticker.C:
			select {
			case <-s.stopCh:
				return false
			default:
			}
		}
	}
}

// reconnectBackoff implements the jittered-exponential sequence named in
// SPEC_FULL.md §4.3: 250ms, 500ms, 1s, ... capped at 10s, each jittered to
// a random point in [d/2, 1.5d) so many subscribers reconnecting after the
// same outage don't all retry in lockstep against the store.
func reconnectBackoff(attempt int) time.Duration {
	const base = 250 * time.Millisecond
	const maxBackoff = 10 * time.Second

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			d = maxBackoff
			break
		}
	}
	return time.Duration(rand.Int63n(int64(d)) + int64(d)/2)
}
