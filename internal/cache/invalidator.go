package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InvalidationHandler receives invalidation events published by peer nodes.
// The composite roles store implements this interface.
type InvalidationHandler interface {
	InvalidateRoles(names []string)
	InvalidateAll()
}

// invalidationMessage is the wire format published on the invalidation
// channel.
type invalidationMessage struct {
	All   bool     `json:"all,omitempty"`
	Names []string `json:"names,omitempty"`
}

// Invalidator propagates role-cache invalidations across nodes over a Redis
// pub/sub channel. Each node publishes its local invalidations and applies
// those published by peers. Delivery is best effort: a missed message only
// delays convergence until the affected entries are re-resolved or evicted.
type Invalidator struct {
	client  redis.UniversalClient
	channel string
	handler InvalidationHandler
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// InvalidatorConfig configures the distributed invalidator.
type InvalidatorConfig struct {
	// Addr is the Redis address, host:port.
	Addr string
	// Password is the optional Redis password.
	Password string
	// DB is the Redis database number.
	DB int
	// Channel is the pub/sub channel name.
	Channel string
}

// DefaultInvalidatorConfig returns the default invalidator configuration.
func DefaultInvalidatorConfig() InvalidatorConfig {
	return InvalidatorConfig{
		Addr:    "localhost:6379",
		Channel: "roles-core:invalidations",
	}
}

// NewInvalidator connects to Redis and returns an invalidator that is not
// yet subscribed; call Start to begin applying peer invalidations.
func NewInvalidator(cfg InvalidatorConfig, handler InvalidationHandler, logger *zap.Logger) (*Invalidator, error) {
	if handler == nil {
		return nil, fmt.Errorf("invalidation handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultInvalidatorConfig().Channel
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Invalidator{
		client:  client,
		channel: cfg.Channel,
		handler: handler,
		logger:  logger,
	}, nil
}

// Start subscribes to the invalidation channel and applies incoming events
// until Stop is called.
func (inv *Invalidator) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	sub := inv.client.Subscribe(ctx, inv.channel)
	// Force the subscription to be established before returning.
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to %q: %w", inv.channel, err)
	}

	inv.cancel = cancel
	inv.done = make(chan struct{})

	go func() {
		defer close(inv.done)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				inv.apply(msg.Payload)
			}
		}
	}()
	return nil
}

func (inv *Invalidator) apply(payload string) {
	var msg invalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		inv.logger.Warn("dropping malformed invalidation message",
			zap.String("payload", payload),
			zap.Error(err),
		)
		return
	}
	if msg.All {
		inv.logger.Debug("applying remote full invalidation")
		inv.handler.InvalidateAll()
		return
	}
	if len(msg.Names) > 0 {
		inv.logger.Debug("applying remote role invalidation",
			zap.Strings("roles", msg.Names),
		)
		inv.handler.InvalidateRoles(msg.Names)
	}
}

// BroadcastInvalidate publishes an invalidation of the given role names.
func (inv *Invalidator) BroadcastInvalidate(ctx context.Context, names ...string) error {
	return inv.publish(ctx, invalidationMessage{Names: names})
}

// BroadcastInvalidateAll publishes a full cache invalidation.
func (inv *Invalidator) BroadcastInvalidateAll(ctx context.Context) error {
	return inv.publish(ctx, invalidationMessage{All: true})
}

func (inv *Invalidator) publish(ctx context.Context, msg invalidationMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode invalidation message: %w", err)
	}
	if err := inv.client.Publish(ctx, inv.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Stop unsubscribes and closes the Redis connection.
func (inv *Invalidator) Stop() error {
	if inv.cancel != nil {
		inv.cancel()
		<-inv.done
	}
	return inv.client.Close()
}
