package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend persists entries in Redis, for deployments that share a cache
// across nodes. Each entry is one key; an index set tracks membership so Keys
// stays cheap.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all cache keys (default: "councilgo:cache:").
	Prefix string
	// EntryTTL is the per-entry expiry (0 = never expire).
	EntryTTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "councilgo:cache:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    cfg.EntryTTL,
	}, nil
}

// NewRedisBackendFromClient wraps an existing client. Useful for testing with
// miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "councilgo:cache:"
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (b *RedisBackend) entryKey(key string) string {
	return b.prefix + "entry:" + key
}

func (b *RedisBackend) indexKey() string {
	return b.prefix + "index"
}

func (b *RedisBackend) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// Load reads one entry; a missing key returns (nil, nil).
func (b *RedisBackend) Load(key string) (*Entry, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrBackendClosed
	}
	b.mu.RUnlock()

	ctx, cancel := b.opCtx()
	defer cancel()

	data, err := b.client.Get(ctx, b.entryKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

// Save writes one entry and records it in the index set.
func (b *RedisBackend) Save(entry *Entry) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBackendClosed
	}
	b.mu.RUnlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	ctx, cancel := b.opCtx()
	defer cancel()

	pipe := b.client.Pipeline()
	pipe.Set(ctx, b.entryKey(entry.Key), data, b.ttl)
	pipe.SAdd(ctx, b.indexKey(), entry.Key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	return nil
}

// Delete removes one entry and its index record.
func (b *RedisBackend) Delete(key string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBackendClosed
	}
	b.mu.RUnlock()

	ctx, cancel := b.opCtx()
	defer cancel()

	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.entryKey(key))
	pipe.SRem(ctx, b.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Keys lists every cached key from the index set. Keys whose entries have
// expired under TTL are pruned lazily.
func (b *RedisBackend) Keys() ([]string, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrBackendClosed
	}
	b.mu.RUnlock()

	ctx, cancel := b.opCtx()
	defer cancel()

	keys, err := b.client.SMembers(ctx, b.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}

	live := keys[:0]
	for _, key := range keys {
		exists, err := b.client.Exists(ctx, b.entryKey(key)).Result()
		if err != nil {
			return nil, fmt.Errorf("check cache entry: %w", err)
		}
		if exists == 0 {
			b.client.SRem(ctx, b.indexKey(), key)
			continue
		}
		live = append(live, key)
	}
	return live, nil
}

// Ping checks if the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBackendClosed
	}
	b.mu.RUnlock()

	return b.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}
