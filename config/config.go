// Package config holds the tunables for solid-mcp-go's pub/sub engine, all
// defaulted per spec §6 and overridable through functional options.
package config

import (
	"strings"
	"time"
)

// Config configures one Engine instance. Construct with New and apply
// Options; all fields have production-sane defaults.
type Config struct {
	// StoreURL selects the backend by prefix: postgres://, postgresql://
	// for the networked backend; sqlite://, sqlite:, or a *.db/*.sqlite/
	// *.sqlite3 suffix for the embedded backend.
	StoreURL string

	// BatchSize bounds the number of messages the writer accumulates
	// before issuing a store write.
	BatchSize int

	// PollingInterval is the poll cadence used by subscribers on a
	// backend that does not support push.
	PollingInterval time.Duration

	// MaxWaitTime is a hold-window exposed for callers like an SSE
	// handler; the core never reads it.
	MaxWaitTime time.Duration

	// DeliveredRetention is the cutoff age for CleanupDelivered.
	DeliveredRetention time.Duration

	// UndeliveredRetention is the cutoff age for CleanupUndelivered.
	UndeliveredRetention time.Duration

	// MaxQueueSize is the writer's ingress channel capacity.
	MaxQueueSize int

	// ShutdownTimeout is advisory; the core does not enforce it, callers
	// that need a hard bound on Engine.Shutdown must impose one
	// externally (e.g. with a context deadline around the call).
	ShutdownTimeout time.Duration

	// DeadLetterCapacity bounds an optional in-memory ring buffer of the
	// most recently dropped batches. Zero disables it.
	DeadLetterCapacity int

	// MaxListenReconnectAttempts bounds how many times a push subscriber
	// re-arms its wakeup stream after a Listen error before giving up
	// and exiting, per spec §9's resolved reconnection policy.
	MaxListenReconnectAttempts int
}

// New returns a Config for storeURL with every default from spec §6 applied.
func New(storeURL string) *Config {
	return &Config{
		StoreURL:                   storeURL,
		BatchSize:                  200,
		PollingInterval:            100 * time.Millisecond,
		MaxWaitTime:                30 * time.Second,
		DeliveredRetention:         time.Hour,
		UndeliveredRetention:       24 * time.Hour,
		MaxQueueSize:               10_000,
		ShutdownTimeout:            30 * time.Second,
		DeadLetterCapacity:         0,
		MaxListenReconnectAttempts: 5,
	}
}

// Option mutates a Config at construction time.
type Option func(*Config)

func WithBatchSize(n int) Option             { return func(c *Config) { c.BatchSize = n } }
func WithPollingInterval(d time.Duration) Option {
	return func(c *Config) { c.PollingInterval = d }
}
func WithMaxWaitTime(d time.Duration) Option { return func(c *Config) { c.MaxWaitTime = d } }
func WithDeliveredRetention(d time.Duration) Option {
	return func(c *Config) { c.DeliveredRetention = d }
}
func WithUndeliveredRetention(d time.Duration) Option {
	return func(c *Config) { c.UndeliveredRetention = d }
}
func WithMaxQueueSize(n int) Option      { return func(c *Config) { c.MaxQueueSize = n } }
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) { c.ShutdownTimeout = d }
}
func WithDeadLetterCapacity(n int) Option { return func(c *Config) { c.DeadLetterCapacity = n } }
func WithMaxListenReconnectAttempts(n int) Option {
	return func(c *Config) { c.MaxListenReconnectAttempts = n }
}

// Apply runs every option against c in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// IsPostgres reports whether StoreURL selects the networked backend.
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.StoreURL, "postgres://") || strings.HasPrefix(c.StoreURL, "postgresql://")
}

// IsSQLite reports whether StoreURL selects the embedded backend.
// "sqlite:" also matches the "sqlite://" form, since every "sqlite://"
// URL already starts with "sqlite:".
func (c *Config) IsSQLite() bool {
	return strings.HasPrefix(c.StoreURL, "sqlite:") ||
		strings.HasSuffix(c.StoreURL, ".db") ||
		strings.HasSuffix(c.StoreURL, ".sqlite") ||
		strings.HasSuffix(c.StoreURL, ".sqlite3")
}
