package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/canopy-network/bakerx/pkg/indexer"
	"github.com/canopy-network/bakerx/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel carries one message per committed height.
const DefaultChannel = "bakerx:block.ingested"

// Client wraps the Redis client used for real-time block notifications over Pub/Sub.
type Client struct {
	client  *redis.Client
	logger  *zap.Logger
	channel string
}

// NewClient connects using environment variables:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
func NewClient(ctx context.Context, logger *zap.Logger, channel string) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	c := Wrap(rdb, logger, channel)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Health(pingCtx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", db),
		zap.String("channel", c.channel))
	return c, nil
}

// Wrap builds a Client around an existing connection.
func Wrap(rdb *redis.Client, logger *zap.Logger, channel string) *Client {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Client{client: rdb, logger: logger.Named("redis"), channel: channel}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Channel is the Pub/Sub channel block events go to.
func (c *Client) Channel() string {
	return c.channel
}

// Publish publishes a message to a Redis Pub/Sub channel.
// Errors are logged, not returned: notifications never fail the caller.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// PublishBlock announces a committed height on the configured channel.
func (c *Client) PublishBlock(ctx context.Context, ev indexer.BlockIngested) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Warn("Failed to encode block event", zap.Uint64("height", ev.Height), zap.Error(err))
		return
	}
	c.Publish(ctx, c.channel, payload)
}

// Subscribe subscribes to the configured channel. The caller closes the returned PubSub.
func (c *Client) Subscribe(ctx context.Context) *redis.PubSub {
	c.logger.Debug("Subscribing to Redis channel", zap.String("channel", c.channel))
	return c.client.Subscribe(ctx, c.channel)
}

// DecodeBlock parses a message published by PublishBlock.
func DecodeBlock(msg *redis.Message) (indexer.BlockIngested, error) {
	var ev indexer.BlockIngested
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		return ev, fmt.Errorf("decode block event on %s: %w", msg.Channel, err)
	}
	return ev, nil
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ indexer.Publisher = (*Client)(nil)
