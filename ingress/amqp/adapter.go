package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
)

// Publisher is the slice of Engine's API the adapter needs. Depending on
// this instead of *pubsub.Engine keeps the ingress package free of an
// import cycle and easy to test with a fake.
type Publisher interface {
	PublishBlocking(ctx context.Context, sessionID, eventType, data string) error
}

// handlerName is the Watermill router handler identifier; it must be
// unique per router but is otherwise inert.
const handlerName = "solid_mcp_ingress"

// Adapter owns the Watermill subscriber and router that feed Engine.
type Adapter struct {
	cfg     Config
	logger  *slog.Logger
	pub     Publisher
	router  *message.Router
	dedup   *lru.Cache[string, struct{}]
	breaker *gobreaker.CircuitBreaker
}

// New builds an Adapter. It does not start consuming until Run is called.
func New(cfg Config, pub Publisher, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dedup, err := lru.New[string, struct{}](cfg.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("amqp ingress: building dedup cache: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "solid_mcp_ingress_publish",
		MaxRequests: cfg.BreakerMaxRequests,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
	})

	router, err := message.NewRouter(message.RouterConfig{}, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("amqp ingress: building router: %w", err)
	}

	a := &Adapter{
		cfg:     cfg,
		logger:  logger,
		pub:     pub,
		router:  router,
		dedup:   dedup,
		breaker: breaker,
	}

	queueName := cfg.Exchange + "." + cfg.QueueSuffix
	amqpCfg := wmamqp.NewDurablePubSubConfig(cfg.URI, amqpQueueName(queueName))
	amqpCfg.Exchange = wmamqp.ExchangeConfig{
		GenerateName: func(topic string) string { return cfg.Exchange },
		Type:         "topic",
		Durable:      true,
	}

	subscriber, err := wmamqp.NewSubscriber(amqpCfg, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("amqp ingress: building subscriber: %w", err)
	}

	router.AddNoPublisherHandler(handlerName, cfg.RoutingKey, subscriber, a.handle)

	return a, nil
}

// amqpQueueName returns a watermill QueueNameGenerator that always yields
// name, ignoring the topic Watermill passes it. Every replica of one
// deployment declares the same durable queue, so they compete for
// deliveries rather than each getting their own copy: that is what keeps
// a given event from being published to the store more than once.
func amqpQueueName(name string) wmamqp.QueueNameGenerator {
	return func(topic string) string { return name }
}

// Run blocks, consuming until ctx is canceled.
func (a *Adapter) Run(ctx context.Context) error {
	return a.router.Run(ctx)
}

// Close stops the router and releases the subscriber connection.
func (a *Adapter) Close() error {
	return a.router.Close()
}

func (a *Adapter) handle(msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("amqp ingress: panic recovered", "panic", r, "stack", string(debug.Stack()), "msg_id", msg.UUID)
			err = nil
		}
	}()

	if _, seen := a.dedup.Get(msg.UUID); seen {
		return nil
	}

	var payload wirePayload
	if decodeErr := json.Unmarshal(msg.Payload, &payload); decodeErr != nil {
		a.logger.Error("amqp ingress: decode failed, dropping poison message", "error", decodeErr, "msg_id", msg.UUID)
		return nil
	}
	if payload.SessionID == "" {
		a.logger.Warn("amqp ingress: missing session_id, dropping message", "msg_id", msg.UUID)
		return nil
	}

	ctx, cancel := context.WithTimeout(msg.Context(), a.cfg.PublishTimeout)
	defer cancel()

	_, err = a.breaker.Execute(func() (interface{}, error) {
		return nil, a.pub.PublishBlocking(ctx, payload.SessionID, payload.EventType, payload.Data)
	})
	if err != nil {
		a.logger.Error("amqp ingress: publish failed, will retry", "error", err, "session_id", payload.SessionID)
		return err
	}

	// Only remember the id once the publish actually lands, so a failed
	// attempt is still retried on redelivery instead of being silently
	// swallowed by the dedup check above.
	a.dedup.Add(msg.UUID, struct{}{})
	return nil
}
