package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/aggregator/finding"
)

// Client defines the interface for moving findings through Redis queues.
type Client interface {
	// Push adds a finding to the end of a queue (LPUSH).
	Push(ctx context.Context, queue string, f *finding.Finding) error

	// Pop removes and returns the oldest message of a queue (BRPOP).
	// Blocks for at most timeout (zero blocks until a message arrives or
	// ctx is cancelled) and returns nil, nil when the timeout expires.
	Pop(ctx context.Context, queue string, timeout time.Duration) (*Message, error)

	// Len returns the number of messages waiting in a queue.
	Len(ctx context.Context, queue string) (int64, error)

	// Close closes the Redis connection.
	Close() error
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration
}

// Connect opens and pings a go-redis client. Zero options fall back to
// localhost:6379 and 5s/30s/5s connect/read/write timeouts.
func Connect(opts RedisOptions) (*redis.Client, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisClient implements the Client interface using go-redis/v9.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient connects to Redis and returns a queue client.
func NewRedisClient(opts RedisOptions) (*RedisClient, error) {
	client, err := Connect(opts)
	if err != nil {
		return nil, err
	}
	return &RedisClient{client: client}, nil
}

// NewClient wraps an existing go-redis client. Close closes it.
func NewClient(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// Push adds a finding to the end of a queue. The trace context of ctx, if
// any, travels with the message.
func (c *RedisClient) Push(ctx context.Context, queue string, f *finding.Finding) error {
	if f == nil {
		return fmt.Errorf("cannot push nil finding to queue %s", queue)
	}

	msg := Message{
		Finding:    f,
		EnqueuedAt: time.Now().UnixMilli(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		msg.TraceID = sc.TraceID().String()
		msg.SpanID = sc.SpanID().String()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := c.client.LPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("failed to push to queue %s: %w", queue, err)
	}

	return nil
}

// Pop removes and returns the oldest message of a queue.
func (c *RedisClient) Pop(ctx context.Context, queue string, timeout time.Duration) (*Message, error) {
	// BRPOP returns [queue_name, value], or redis.Nil on timeout
	result, err := c.client.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from queue %s: %w", queue, err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP result length: %d", len(result))
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

// Len returns the number of messages waiting in a queue.
func (c *RedisClient) Len(ctx context.Context, queue string) (int64, error) {
	n, err := c.client.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get length of queue %s: %w", queue, err)
	}
	return n, nil
}

// Ping checks the Redis connection.
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}
