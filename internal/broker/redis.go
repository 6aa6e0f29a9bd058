package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"campuswire/pkg/interfaces"
)

// RedisConfig configures the Redis pub/sub broker
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	ChannelPrefix  string
	PublishRetries int
	RetryDelay     time.Duration
}

// Redis fans room events out across server processes over Redis pub/sub.
// Every channel is namespaced as prefix + name and a single pattern
// subscription covers all rooms.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
	logger *zap.Logger
}

var _ interfaces.Broker = (*Redis)(nil)

// NewRedis creates the client and checks the server responds. An
// unreachable server is logged, not returned: publishes fail and the
// subscription retries until it comes back, while local delivery goes on.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, ErrRedisNoAddress
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "campuswire:room:"
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	r := &Redis{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "broker.redis")),
	}
	if err := client.Ping(ctx).Err(); err != nil {
		r.logger.Warn("Redis unreachable, delivering to local members until it recovers",
			zap.String("addr", cfg.Addr),
			zap.Error(err))
	}
	return r, nil
}

// Publish sends payload with a bounded number of retries
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return ErrEmptyChannel
	}

	var err error
	for attempt := 0; attempt <= r.cfg.PublishRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = r.client.Publish(ctx, r.cfg.ChannelPrefix+channel, payload).Err()
		if err == nil {
			return nil
		}
		if err == redis.ErrClosed {
			return interfaces.ErrBrokerClosed
		}
		r.logger.Debug("Redis publish failed",
			zap.String("channel", channel),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return fmt.Errorf("%w: %v", ErrPublishFailed, err)
}

// Subscribe pattern-subscribes to every room channel. go-redis reconnects
// the subscription on its own; this only returns on ctx or close.
func (r *Redis) Subscribe(ctx context.Context, handler interfaces.MessageHandler) error {
	pubsub := r.client.PSubscribe(ctx, r.cfg.ChannelPrefix+"*")
	defer func() { _ = pubsub.Close() }()

	// Wait for confirmation so publishes after this point are not missed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe failed: %w", err)
	}
	r.logger.Info("Subscribed to room channels", zap.String("pattern", r.cfg.ChannelPrefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return interfaces.ErrBrokerClosed
			}
			handler(strings.TrimPrefix(msg.Channel, r.cfg.ChannelPrefix), []byte(msg.Payload))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
