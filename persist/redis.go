package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/aggregator/aggregate"
	"github.com/zero-day-ai/aggregator/group"
)

// DefaultRedisPrefix is the key prefix used when none is configured.
const DefaultRedisPrefix = "aggregator"

// RedisBackend stores snapshots in Redis.
type RedisBackend struct {
	client *redis.Client
	codec  *Codec
	prefix string
	ttl    time.Duration
}

// RedisBackendOptions configures a RedisBackend.
type RedisBackendOptions struct {
	// Prefix is prepended to every key. Defaults to DefaultRedisPrefix.
	Prefix string

	// TTL expires stored keys of a session; zero keeps them forever.
	TTL time.Duration
}

// NewRedisBackend creates a backend on an existing go-redis client (see
// queue.Connect). Close closes the client.
func NewRedisBackend(client *redis.Client, codec *Codec, opts RedisBackendOptions) *RedisBackend {
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	return &RedisBackend{
		client: client,
		codec:  codec,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
	}
}

func (b *RedisBackend) groupKey(session, identity string) string {
	return formatKey(b.prefix, session, "group", identity)
}

func (b *RedisBackend) bucketKey(session string, key aggregate.BucketKey) string {
	return formatKey(b.prefix, session, "bucket", key.Producer, key.Class)
}

func (b *RedisBackend) bucketsKey(session string) string {
	return formatKey(b.prefix, session, "buckets")
}

// SaveBucket replaces the stored groups of a bucket in one MULTI/EXEC
// transaction. Identities that are no longer part of the bucket are deleted.
func (b *RedisBackend) SaveBucket(ctx context.Context, session string, key aggregate.BucketKey, snapshots []group.Snapshot) error {
	listKey := b.bucketKey(session, key)
	member, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to marshal bucket key: %w", err)
	}

	previous, err := b.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read bucket %s: %w", key, err)
	}

	payloads := make([][]byte, len(snapshots))
	current := make(map[string]bool, len(snapshots))
	for i, s := range snapshots {
		if s.Identity == "" {
			return fmt.Errorf("snapshot %d of bucket %s has no identity", i, key)
		}
		data, err := b.codec.Encode(s)
		if err != nil {
			return fmt.Errorf("failed to encode group %s: %w", s.Identity, err)
		}
		payloads[i] = data
		current[s.Identity] = true
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, listKey)
		for _, id := range previous {
			if !current[id] {
				pipe.Del(ctx, b.groupKey(session, id))
			}
		}

		if len(snapshots) == 0 {
			pipe.SRem(ctx, b.bucketsKey(session), member)
			return nil
		}

		for i, s := range snapshots {
			pipe.Set(ctx, b.groupKey(session, s.Identity), payloads[i], b.ttl)
			pipe.RPush(ctx, listKey, s.Identity)
		}
		pipe.SAdd(ctx, b.bucketsKey(session), member)
		if b.ttl > 0 {
			pipe.Expire(ctx, listKey, b.ttl)
			pipe.Expire(ctx, b.bucketsKey(session), b.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save bucket %s: %w", key, err)
	}

	return nil
}

// LoadBucket returns the stored groups of a bucket.
func (b *RedisBackend) LoadBucket(ctx context.Context, session string, key aggregate.BucketKey) ([]group.Snapshot, error) {
	ids, err := b.client.LRange(ctx, b.bucketKey(session, key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read bucket %s: %w", key, err)
	}
	if len(ids) == 0 {
		return []group.Snapshot{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.groupKey(session, id)
	}

	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read groups of bucket %s: %w", key, err)
	}

	snapshots := make([]group.Snapshot, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("group %s of bucket %s is missing", ids[i], key)
		}
		s, err := b.codec.Decode([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode group %s: %w", ids[i], err)
		}
		snapshots = append(snapshots, s)
	}

	return snapshots, nil
}

// Buckets lists the non-empty buckets of a session.
func (b *RedisBackend) Buckets(ctx context.Context, session string) ([]aggregate.BucketKey, error) {
	members, err := b.client.SMembers(ctx, b.bucketsKey(session)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}

	keys := make([]aggregate.BucketKey, 0, len(members))
	for _, m := range members {
		var key aggregate.BucketKey
		if err := json.Unmarshal([]byte(m), &key); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bucket key %q: %w", m, err)
		}
		keys = append(keys, key)
	}
	sortBucketKeys(keys)

	return keys, nil
}

// Delete removes every key of a session.
func (b *RedisBackend) Delete(ctx context.Context, session string) error {
	buckets, err := b.Buckets(ctx, session)
	if err != nil {
		return err
	}

	keys := []string{b.bucketsKey(session)}
	for _, bk := range buckets {
		listKey := b.bucketKey(session, bk)
		ids, err := b.client.LRange(ctx, listKey, 0, -1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read bucket %s: %w", bk, err)
		}
		keys = append(keys, listKey)
		for _, id := range ids {
			keys = append(keys, b.groupKey(session, id))
		}
	}

	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", session, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func formatKey(parts ...string) string {
	return strings.Join(parts, ":")
}

func sortBucketKeys(keys []aggregate.BucketKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Producer != keys[j].Producer {
			return keys[i].Producer < keys[j].Producer
		}
		return keys[i].Class < keys[j].Class
	})
}
